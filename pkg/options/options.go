// Package options holds helpers shared by the option groups of docchat.
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every option group registered on the command line.
type IOptions interface {
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
	Validate() []error
}

// Join builds a flag name prefix: Join("embedding") is "embedding.", Join() is "".
func Join(prefixes ...string) string {
	if p := strings.Join(prefixes, "."); p != "" {
		return p + "."
	}
	return ""
}
