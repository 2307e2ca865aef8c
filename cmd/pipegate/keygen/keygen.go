// Package keygen implements the keygen command, which prints distinct
// identifier-registry keys using the same generator the gateway uses for
// session keys.
package keygen

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-pipe/internal/registry"
)

func NewCmd() *cobra.Command {
	var (
		length      int
		alphabet    string
		count       int
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate distinct random keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive, got %d", count)
			}
			keys, err := Generate(count, length, alphabet, maxAttempts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, k := range keys {
				if _, err := fmt.Fprintln(out, k); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&length, "length", "l", registry.DefaultKeyLength, "Key length")
	cmd.Flags().StringVarP(&alphabet, "alphabet", "a", registry.DefaultAlphabet, "Symbols keys are drawn from")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of keys to print")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Give up after this many collisions per key (0 = unbounded)")
	return cmd
}

// Generate returns count distinct keys in generation order.
func Generate(count, length int, alphabet string, maxAttempts int) ([]string, error) {
	reg, err := registry.New[struct{}](
		registry.WithKeyLength(length),
		registry.WithAlphabet(alphabet),
		registry.WithMaxAttempts(maxAttempts),
	)
	if err != nil {
		return nil, err
	}
	if space := reg.KeySpace(); uint64(count) > space {
		return nil, fmt.Errorf("cannot generate %d distinct keys from a key space of %d", count, space)
	}

	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		key, err := reg.AutoSet(struct{}{})
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
