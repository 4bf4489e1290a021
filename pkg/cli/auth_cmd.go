package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tapkit/pkg/tap"
)

func newLoginCmd(s *session) *cobra.Command {
	var (
		user            string
		credentialsFile string
		passwordStdin   bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a TAP+ session and save its cookie to the active profile",
		Example: `  # Prompt for the password
  tap login --user jdoe

  # Non-interactive
  tap login --credentials-file ~/.tap/credentials
  echo "$TAP_PASSWORD" | tap login --user jdoe --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			if credentialsFile != "" {
				var password string
				if user, password, err = tap.ReadCredentials(credentialsFile); err != nil {
					return err
				}
				err = client.Login(cmd.Context(), user, password)
			} else {
				if user == "" {
					user = s.user.Profiles[s.profileName].User
				}
				if user == "" {
					return fmt.Errorf("--user or --credentials-file is required")
				}
				var password string
				if password, err = readPassword(cmd, passwordStdin); err != nil {
					return err
				}
				err = client.Login(cmd.Context(), user, password)
			}
			if err != nil {
				return err
			}

			cookie := client.Handler().Cookie()
			err = updateProfile(s.profileName, func(p *Profile) {
				p.Cookie = cookie
				p.User = user
				if p.URL == "" {
					p.URL = s.env.URL
				}
			})
			if err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			return printStatus(cmd, fmt.Sprintf("Logged in as %s (profile %q)", user, s.profileName),
				map[string]string{"user": user, "profile": s.profileName})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User name (defaults to the profile user)")
	cmd.Flags().StringVar(&credentialsFile, "credentials-file", "", "File with the user name on the first line and the password on the second")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from standard input")
	cmd.MarkFlagsMutuallyExclusive("credentials-file", "user")
	cmd.MarkFlagsMutuallyExclusive("credentials-file", "password-stdin")
	return cmd
}

func newLogoutCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Close the TAP+ session and forget its cookie",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := s.plus()
			if err != nil {
				return err
			}
			logoutErr := client.Logout(cmd.Context())
			if err := updateProfile(s.profileName, func(p *Profile) { p.Cookie = "" }); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			if logoutErr != nil {
				return logoutErr
			}
			return printStatus(cmd, "Logged out", map[string]string{"profile": s.profileName})
		},
	}
}

// readPassword reads one line from stdin, or prompts without echo when
// stdin is a terminal.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for a password without a terminal: use --password-stdin or --credentials-file")
	}
	_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	data, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(data), nil
}
