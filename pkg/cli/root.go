package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"tapkit/internal/config"
	"tapkit/internal/domain"
	"tapkit/pkg/tap"
)

// DefaultURL is the service used when no flag, environment variable or
// profile names one.
const DefaultURL = "https://gea.esac.esa.int/tap-server/tap"

var commit = "none"

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, errorObject(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func errorObject(err error) map[string]interface{} {
	errObj := map[string]interface{}{
		"error": err.Error(),
	}
	var remoteErr *domain.RemoteError
	var validationErr *domain.ValidationError
	var notFoundErr *domain.NotFoundError
	var protocolErr *domain.ProtocolError
	switch {
	case errors.As(err, &remoteErr):
		errObj["kind"] = "remote"
		if remoteErr.StatusCode != 0 {
			errObj["http_status"] = remoteErr.StatusCode
		}
	case errors.As(err, &validationErr):
		errObj["kind"] = "validation"
	case errors.As(err, &notFoundErr):
		errObj["kind"] = "not_found"
	case errors.As(err, &protocolErr):
		errObj["kind"] = "protocol"
	}
	return errObj
}

// session resolves settings once per invocation and builds the client on
// first use.
type session struct {
	url         string
	output      string
	profileName string
	envFile     string
	verbose     bool

	user   *UserConfig
	env    *config.Config
	logger *slog.Logger
	client *tap.Plus
}

func newRootCmd() *cobra.Command {
	s := &session{}

	rootCmd := &cobra.Command{
		Use:           "tap",
		Short:         "IVOA TAP and TAP+ client",
		Long:          "Command-line client for IVOA Table Access Protocol services and their TAP+ extensions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.resolve(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&s.url, "url", DefaultURL, "TAP service URL")
	rootCmd.PersistentFlags().StringVarP(&s.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&s.profileName, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "Log requests and job polling")
	rootCmd.PersistentFlags().StringVar(&s.envFile, "env-file", ".env", "Environment file loaded before TAP_* variables are read")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newCompletionCmd())

	rootCmd.AddCommand(newTablesCmd(s))
	rootCmd.AddCommand(newTableCmd(s))
	rootCmd.AddCommand(newQueryCmd(s))
	rootCmd.AddCommand(newJobsCmd(s))

	rootCmd.AddCommand(newLoginCmd(s))
	rootCmd.AddCommand(newLogoutCmd(s))
	rootCmd.AddCommand(newUserTableCmd(s))
	rootCmd.AddCommand(newShareCmd(s))
	rootCmd.AddCommand(newDataCmd(s))
	rootCmd.AddCommand(newDatalinkCmd(s))

	return rootCmd
}

// resolve applies the precedence flag > env > profile > default.
func (s *session) resolve(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(s.envFile); err != nil {
		return err
	}
	env, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	s.user = loadOrEmptyUserConfig()
	s.profileName = s.user.ActiveProfileName(s.profileName)
	p := s.user.Profiles[s.profileName]

	flags := cmd.Root().PersistentFlags()
	switch {
	case flags.Changed("url"):
		env.URL = s.url
	case env.HasTarget():
	case p.URL != "":
		env.URL = p.URL
	default:
		env.URL = DefaultURL
	}
	if env.URL != "" {
		if err := validateServiceURL(env.URL); err != nil {
			return err
		}
	}
	if env.ClientID == "" {
		env.ClientID = p.ClientID
	}
	if !flags.Changed("output") {
		if v := os.Getenv("TAP_OUTPUT"); v != "" {
			s.output = v
		} else if p.Output != "" {
			s.output = p.Output
		}
		_ = flags.Set("output", s.output)
	}
	if err := validateOutputFormat(s.output); err != nil {
		return err
	}
	s.env = env

	level := env.SlogLevel()
	if s.verbose {
		level = slog.LevelDebug
	}
	s.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	for _, w := range env.Warnings {
		s.logger.Warn(w)
	}
	return nil
}

// plus returns the client, creating it on first use with the profile's
// session cookie attached.
func (s *session) plus() (*tap.Plus, error) {
	if s.client != nil {
		return s.client, nil
	}
	cc, err := s.env.ConnConfig()
	if err != nil {
		return nil, err
	}
	client, err := tap.NewPlus(tap.Config{
		Conn:            cc,
		ClientID:        s.env.ClientID,
		PollInterval:    s.env.PollInterval,
		UseNamesOverIDs: s.env.UseNamesOverIDs,
		Logger:          s.logger,
	})
	if err != nil {
		return nil, err
	}
	if cookie := s.user.Profiles[s.profileName].Cookie; cookie != "" {
		client.Handler().SetCookie(cookie)
	}
	s.client = client
	return client, nil
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
