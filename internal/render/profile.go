package render

import (
	"fmt"
	"strings"
)

// Profile describes one paper width.
type Profile struct {
	Name         string `json:"name"`
	Columns      int    `json:"columns"`
	Dots         int    `json:"dots"`
	NativeBitmap bool   `json:"native_bitmap"`
}

// Built-in paper profiles.
var (
	Profile58mm = Profile{Name: "58mm", Columns: 32, Dots: 384, NativeBitmap: true}
	Profile80mm = Profile{Name: "80mm", Columns: 48, Dots: 576, NativeBitmap: true}
)

// minColumns is the narrowest profile the section layout supports.
const minColumns = 16

// ProfileByName resolves "58", "58mm", "80" or "80mm".
func ProfileByName(name string) (Profile, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "mm") {
	case "58", "":
		return Profile58mm, nil
	case "80":
		return Profile80mm, nil
	default:
		return Profile{}, fmt.Errorf("invalid paper_width %q (use 58 or 80)", name)
	}
}

// Validate rejects profiles the layout engine cannot fill.
func (p Profile) Validate() error {
	if p.Columns < minColumns {
		return fmt.Errorf("%w: %d columns, need at least %d", ErrInvalidProfile, p.Columns, minColumns)
	}
	if p.NativeBitmap && p.Dots < 8 {
		return fmt.Errorf("%w: %d dots", ErrInvalidProfile, p.Dots)
	}
	return nil
}
