package main

// ClickCounter counts button presses since startup.
type ClickCounter struct {
	Count uint64
}

// Press records one click and returns the new total.
func (c *ClickCounter) Press() uint64 {
	c.Count++
	return c.Count
}
