package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "creditchat",
	Short: "Credit-gated streaming chat server",
	Long: `creditchat serves a small chat web app. Every message is checked against
the billing API before it is forwarded to the completion API, and the answer is
streamed back to the browser as it arrives.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message through the credit gate and print the answer",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Int("port", 3000, "HTTP listen port")
	flags.String("static-dir", "web", "directory served at /")
	flags.String("database-path", "chat-usage.db", "sqlite usage ledger, empty to disable")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-file", "", "also write logs to this rotated file")
	flags.String("trace-file", "", "export trace spans to this rotated file")

	for _, name := range []string{"port", "static-dir", "database-path", "log-level", "log-file", "trace-file"} {
		if err := viper.BindPFlag(flagKey(name), flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", name, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
}

// flagKey maps a flag name to its viper key, which is also the env name.
func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
