package helpers

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// AddChoiceFlag registers a string flag restricted to choices, with shell
// completion for them. Use ValidateChoice in RunE to enforce it.
func AddChoiceFlag(cmd *cobra.Command, target *string, name, shorthand, def, usage string, choices []string) {
	usage = fmt.Sprintf("%s (%s)", usage, strings.Join(choices, ", "))
	cmd.Flags().StringVarP(target, name, shorthand, def, usage)
	_ = cmd.RegisterFlagCompletionFunc(name, cobra.FixedCompletions(choices, cobra.ShellCompDirectiveNoFileComp))
}

// ValidateChoice rejects a flag value outside choices.
func ValidateChoice(name, value string, choices []string) error {
	if slices.Contains(choices, value) {
		return nil
	}
	return fmt.Errorf("unsupported --%s %q, must be one of: %s", name, value, strings.Join(choices, ", "))
}

// AddFormatFlag adds the --format/-f flag.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supported []OutputFormat) {
	AddChoiceFlag(cmd, formatVar, "format", "f", string(defaultFormat), "Output format", formatNames(supported))
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	return ValidateChoice("format", format, formatNames(supported))
}

// AddLimitFlag adds the --limit/-n flag.
func AddLimitFlag(cmd *cobra.Command, limitVar *int, defaultLimit int) {
	cmd.Flags().IntVarP(limitVar, "limit", "n", defaultLimit, "Maximum number of rows (0 for all)")
}

func formatNames(formats []OutputFormat) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}
