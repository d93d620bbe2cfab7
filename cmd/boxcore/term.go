package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// termConsole renders the display deck's output on a terminal with ANSI
// escapes. Cursor tracking is approximate: explicit moves are remembered,
// plain writes advance the column by their length.
type termConsole struct {
	w    io.Writer
	x, y int32
}

func newTermConsole(w io.Writer) *termConsole {
	return &termConsole{w: w}
}

func (c *termConsole) Write(text []byte, attr uint8) {
	if attr != 0x07 {
		fmt.Fprintf(c.w, "\x1b[%dm%s\x1b[0m", ansiColor(attr), text)
	} else {
		c.w.Write(text)
	}
	if i := bytes.LastIndexByte(text, '\n'); i >= 0 {
		c.y += int32(bytes.Count(text, []byte{'\n'}))
		c.x = int32(len(text) - i - 1)
	} else {
		c.x += int32(len(text))
	}
}

func (c *termConsole) Clear() {
	fmt.Fprint(c.w, "\x1b[2J\x1b[H")
	c.x, c.y = 0, 0
}

func (c *termConsole) SetCursor(x, y int32) {
	fmt.Fprintf(c.w, "\x1b[%d;%dH", y+1, x+1)
	c.x, c.y = x, y
}

func (c *termConsole) Cursor() (int32, int32) {
	return c.x, c.y
}

// ansiColor maps the low nibble of a VGA attribute to an ANSI foreground code.
func ansiColor(attr uint8) int {
	// VGA order: black, blue, green, cyan, red, magenta, brown, grey.
	table := [8]int{30, 34, 32, 36, 31, 35, 33, 37}
	return table[attr&0x07]
}

// stdinKeyboard feeds line input from a reader. ReadChar only reports bytes
// already buffered so a poll never blocks the machine pass.
type stdinKeyboard struct {
	r *bufio.Reader
}

func newStdinKeyboard(r io.Reader) *stdinKeyboard {
	return &stdinKeyboard{r: bufio.NewReader(r)}
}

func (k *stdinKeyboard) ReadChar() (byte, bool) {
	if k.r.Buffered() == 0 {
		return 0, false
	}
	b, err := k.r.ReadByte()
	if err != nil {
		return 0, false
	}
	return b, true
}

func (k *stdinKeyboard) ReadLine(max int) []byte {
	line, err := k.r.ReadString('\n')
	if err != nil && line == "" {
		return nil
	}
	line = trimEOL(line)
	if len(line) > max {
		line = line[:max]
	}
	return []byte(line)
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
