package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/sharepoint-go"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration and report every problem",
		RunE:  runConfigValidate,
	}
}

type configSection struct {
	name    string
	entries []configEntry
}

type configEntry struct {
	key   string
	value any
}

// configSections renders the effective configuration as ordered sections
// mirroring the config file layout, with secrets redacted.
func configSections() []configSection {
	return []configSection{
		{"site", []configEntry{
			{"tenant", cfg.Site.Tenant},
			{"tenant_id", cfg.Site.TenantID},
			{"site_name", cfg.Site.SiteName},
			{"root_dir", cfg.Site.RootDir},
		}},
		{"auth", []configEntry{
			{"client_id", cfg.Auth.ClientID},
			{"client_secret", redactSecret(cfg.Auth.ClientSecret)},
			{"username", cfg.Auth.Username},
			{"password", redactSecret(cfg.Auth.Password)},
		}},
		{"storage", []configEntry{
			{"blob_max_memory_size", cfg.Storage.BlobMaxMemorySize},
		}},
		{"network", []configEntry{
			{"connect_timeout", cfg.Network.ConnectTimeout},
			{"data_timeout", cfg.Network.DataTimeout},
			{"user_agent", cfg.Network.UserAgent},
			{"requests_per_second", cfg.Network.RequestsPerSecond},
			{"force_http_11", cfg.Network.ForceHTTP11},
		}},
		{"logging", []configEntry{
			{"log_level", cfg.Logging.LogLevel},
			{"log_format", cfg.Logging.LogFormat},
		}},
	}
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}

	return "[redacted]"
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	sections := configSections()

	if flagJSON {
		out := make(map[string]map[string]any, len(sections))
		for _, sec := range sections {
			m := make(map[string]any, len(sec.entries))
			for _, e := range sec.entries {
				m[e.key] = e.value
			}

			out[sec.name] = m
		}

		return printJSON(out)
	}

	for i, sec := range sections {
		if i > 0 {
			fmt.Println()
		}

		fmt.Printf("[%s]\n", sec.name)

		for _, e := range sec.entries {
			fmt.Printf("%s = %v\n", e.key, e.value)
		}
	}

	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if err := sharepoint.Validate(cfg); err != nil {
		return err
	}

	statusf("Configuration OK\n")

	return nil
}
