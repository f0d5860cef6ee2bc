package conf

import (
	"flag"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Capacity is a byte count that the flag package can parse from
// human-readable IEC values like "10 MiB".
type Capacity int64

// String returns the capacity in human-readable IEC units, see flag.Value.
func (c *Capacity) String() string {
	return humanize.IBytes(uint64(*c))
}

// Set parses str as a human-readable byte count, see flag.Value.
func (c *Capacity) Set(str string) error {
	val, err := humanize.ParseBytes(str)
	if err != nil {
		return fmt.Errorf("parsing %q failed: %w", str, err)
	}
	*c = Capacity(val)
	return nil
}

// Get returns the current value, see flag.Getter.
func (c *Capacity) Get() interface{} { return Capacity(*c) }

// CapacityVar registers a Capacity flag on fs, analogous to fs.DurationVar.
func CapacityVar(fs *flag.FlagSet, p *Capacity, name string, value Capacity, usage string) {
	*p = value
	fs.Var(p, name, usage)
}
