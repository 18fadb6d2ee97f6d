// Package wizard provides an interactive terminal setup flow that produces
// a ready config.Config for a Miniserver connection.
package wizard

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/postalsys/loxone-go/internal/config"
)

var (
	bannerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1)
	summaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// Wizard drives the interactive setup flow.
type Wizard struct {
	// existing seeds the form's defaults, e.g. when re-running the wizard
	// against a previously saved config.
	existing *config.Config
}

// New creates a setup wizard seeded with config defaults.
func New() *Wizard {
	return &Wizard{existing: config.Default()}
}

// WithExisting seeds the form with a previously loaded config instead of
// the package defaults.
func (w *Wizard) WithExisting(cfg *config.Config) *Wizard {
	w.existing = cfg
	return w
}

// Run prompts for the Miniserver's connection details and password and
// returns a ready config.Config. The password is stored in the returned
// config's Miniserver.Password, where the caller's handshake reads it to
// obtain a token.
//
// Run requires an interactive terminal. Non-interactive callers (CI,
// piped input, a service unit) should write the YAML config by hand
// instead and are told so.
func (w *Wizard) Run() (*config.Config, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("wizard: stdin is not a terminal; write the config file by hand instead")
	}

	fmt.Println(bannerStyle.Render("Loxone client setup"))

	cfg := w.existing
	if cfg == nil {
		cfg = config.Default()
	}

	var certPath string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Miniserver URL").
				Description("e.g. ws://192.168.1.77/ws").
				Value(&cfg.Miniserver.URL).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("a miniserver url is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Username").
				Value(&cfg.Miniserver.Username).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("a username is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Certificate file (optional)").
				Description("path to the Miniserver's public certificate PEM; leave blank to supply it at connect time").
				Value(&certPath),
		),
	)
	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("wizard: %w", err)
	}
	if certPath != "" {
		cfg.Miniserver.CertPath = certPath
	}

	password, err := w.askPassword()
	if err != nil {
		return nil, err
	}
	cfg.Miniserver.Password = password

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("wizard: %w", err)
	}

	fmt.Println(summaryStyle.Render(fmt.Sprintf("Configured %s as %s", cfg.Miniserver.URL, cfg.Miniserver.Username)))
	return cfg, nil
}

func (w *Wizard) askPassword() (string, error) {
	fmt.Print("Password: ")
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("wizard: read password: %w", err)
	}
	return string(data), nil
}
