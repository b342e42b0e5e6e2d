package tryton

import (
	"fmt"
	"os"
	"strings"

	"github.com/divvyqueue/gateway/internal/config"
)

// WriteConfig renders the trytond configuration file from the resolved
// deployment configuration and writes it to cfg.ConfigFile. The file embeds
// credentials, so it is written with mode 0600.
func WriteConfig(cfg *config.Config) error {
	var b strings.Builder

	section := func(name string, entries ...[2]string) {
		fmt.Fprintf(&b, "[%s]\n", name)
		for _, e := range entries {
			fmt.Fprintf(&b, "%s = %s\n", e[0], e[1])
		}
		b.WriteString("\n")
	}

	section("database",
		[2]string{"uri", cfg.DatabaseURL},
		[2]string{"default_name", cfg.DatabaseName},
	)
	section("web")
	section("session",
		[2]string{"timeout", fmt.Sprintf("%d", cfg.SessionTimeout)},
		[2]string{"super_pwd", cfg.AdminPassword},
	)
	section("cache",
		[2]string{"class", "trytond.cache.MemoryCache"},
		[2]string{"model", fmt.Sprintf("%d", cfg.CacheModel)},
		[2]string{"record", fmt.Sprintf("%d", cfg.CacheRecord)},
		[2]string{"field", fmt.Sprintf("%d", cfg.CacheField)},
	)
	section("jsonrpc",
		[2]string{"data", cfg.StaticDir},
		[2]string{"cors", strings.Join(cfg.CORSOrigins, ",")},
	)
	section("password",
		[2]string{"length", "8"},
		[2]string{"entropy", "0.5"},
	)

	if err := os.WriteFile(cfg.ConfigFile, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write trytond config: %w", err)
	}
	return nil
}
