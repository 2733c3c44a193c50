package output

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// ConsoleOutput prints readings to a writer, one line per sample.
type ConsoleOutput struct {
	w io.Writer

	sensorColor *color.Color
	valueColor  *color.Color
	errorColor  *color.Color
}

// NewConsole returns a console sink writing to stdout.
func NewConsole() *ConsoleOutput {
	return NewConsoleWriter(os.Stdout)
}

// NewConsoleWriter returns a console sink writing to w.
func NewConsoleWriter(w io.Writer) *ConsoleOutput {
	return &ConsoleOutput{
		w:           w,
		sensorColor: color.New(color.FgCyan),
		valueColor:  color.New(color.FgGreen),
		errorColor:  color.New(color.FgRed, color.Bold),
	}
}

func (c *ConsoleOutput) Publish(readings []Reading) error {
	for _, r := range readings {
		stamp := r.Time.Format("15:04:05.000")
		if r.Error != "" {
			_, err := fmt.Fprintf(c.w, "%s %s %s\n",
				stamp, c.sensorColor.Sprint(r.Sensor), c.errorColor.Sprint(r.Error))
			if err != nil {
				return err
			}
			continue
		}
		_, err := fmt.Fprintf(c.w, "%s %s %s (raw %d)\n",
			stamp, c.sensorColor.Sprint(r.Sensor),
			c.valueColor.Sprintf("%.4f", r.Value), r.Counts)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error {
	return nil
}
