// Package localservice opens a thread-confined access layer over an
// embedded record store.
//
// Example:
//
//	svc, err := localservice.New(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".localservice",
//	})
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
package localservice

import (
	"github.com/mesh-intelligence/localservice/internal/logging"
	"github.com/mesh-intelligence/localservice/internal/service"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

// Version is the current release.
const Version = "0.1.0"

// New validates cfg, attaches the store in cfg.DataDir and returns an access
// layer that owns it. Logging follows cfg.Logging.
func New(cfg types.Config) (types.LocalService, error) {
	svc, err := service.Open(cfg, logging.New(cfg.Logging, Version))
	if err != nil {
		return nil, err
	}
	return svc, nil
}
