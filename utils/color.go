package utils

import (
	"bufio"
	"io"
	"sync"

	"github.com/fatih/color"
)

var supportedColors = []color.Attribute{
	color.FgCyan,
	color.FgHiBlue,
	color.FgWhite,
	color.FgHiGreen,
	color.FgHiMagenta,
	color.FgHiCyan,
	color.FgMagenta,
	color.FgYellow,
}

// ColorPicker hands out node output colors in a fixed rotation.
type ColorPicker struct {
	lock sync.Mutex
	next int
}

func NewColorPicker() *ColorPicker {
	return &ColorPicker{}
}

// NextColor returns the next color. After all supportedColors have been
// handed out it starts over with the first one.
func (c *ColorPicker) NextColor() color.Attribute {
	c.lock.Lock()
	defer c.lock.Unlock()

	pick := supportedColors[c.next%len(supportedColors)]
	c.next++
	return pick
}

// ColorAndPrepend copies [reader] line by line to [writer], each line
// prefixed with "[name] " and colored with [attr]. It returns once the
// copy goroutine is started; the goroutine ends at EOF. Once [writer]
// fails the rest of [reader] is discarded.
func ColorAndPrepend(reader io.Reader, writer io.Writer, name string, attr color.Attribute) {
	painter := color.New(attr)
	scanner := bufio.NewScanner(reader)
	go func() {
		for scanner.Scan() {
			if _, err := painter.Fprintf(writer, "[%s] %s\n", name, scanner.Text()); err != nil {
				_, _ = io.Copy(io.Discard, reader)
				return
			}
		}
	}()
}
