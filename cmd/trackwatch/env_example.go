package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var envExampleCmd = &cobra.Command{
	Use:   "env-example",
	Short: "Generate .env.example and config.example.yaml from the current flags",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return generateExamples(cmd.Root())
	},
}

// Flags that only make sense on the command line.
var envExampleSkipped = map[string]bool{
	"config":   true,
	"env-file": true,
}

func generateExamples(root *cobra.Command) error {
	fmt.Println("Generating .env.example and config.example.yaml...")

	if err := os.WriteFile(".env.example", []byte(generateEnvExampleContent(root)), 0o600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}
	if err := os.WriteFile("config.example.yaml", []byte(configExampleContent), 0o600); err != nil {
		return fmt.Errorf("failed to write config.example.yaml: %w", err)
	}

	fmt.Println("✅ Successfully generated example files")
	return nil
}

func generateEnvExampleContent(root *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# trackwatch Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# Every variable has a CLI flag equivalent: " + envPrefix + "_<FLAG>=value <-> --<flag>\n")
	content.WriteString("# User profiles (Yandex token, owner, chat, playlists) live in config.yaml\n")
	content.WriteString("#\n\n")

	root.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if envExampleSkipped[f.Name] {
			return
		}
		fmt.Fprintf(&content, "# %s (default: %s)\n", f.Usage, defaultOrNone(f.DefValue))
		fmt.Fprintf(&content, "%s=%s\n\n", flagToEnvVar(f.Name), f.DefValue)
	})

	return content.String()
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func defaultOrNone(value string) string {
	if value == "" {
		return "none"
	}
	return value
}

const configExampleContent = `# trackwatch profiles, selected with --username
profiles:
  alice:
    token: "y0_AgAAAA..."        # Yandex Music OAuth token
    owner-name: "alice"          # Yandex login owning the playlists
    chat-id: "-1001234567890"    # Telegram chat receiving the reports
    playlists: [3, 1000]         # Playlist kinds scanned by default

# Any flag can be set here as well
log-level: info
data-dir: ./data
`
