package app

import (
	"log/slog"

	"github.com/MrWong99/clearvox/internal/config"
	"github.com/MrWong99/clearvox/internal/kernel/noisegate"
	"github.com/MrWong99/clearvox/internal/kernel/passthrough"
	"github.com/MrWong99/clearvox/pkg/license"
	"github.com/MrWong99/clearvox/pkg/license/httpauth"
)

// RegisterBuiltins wires the kernels and authority types shipped with
// clearvox into reg.
func RegisterBuiltins(reg *config.Registry) {
	reg.RegisterKernel(noisegate.Name, noisegate.New)
	reg.RegisterKernel(passthrough.Name, passthrough.New)

	reg.RegisterAuthority(httpauth.Type, func(entry config.AuthorityEntry) (license.Authority, error) {
		var opts []httpauth.Option
		if entry.Token != "" {
			opts = append(opts, httpauth.WithToken(entry.Token))
		}
		return httpauth.New(entry.URL, opts...)
	})

	for _, name := range config.ValidKernelNames {
		slog.Debug("registered kernel", "name", name)
	}
}
