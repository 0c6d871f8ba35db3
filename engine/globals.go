package engine

import (
	"log/slog"

	"github.com/drummonds/pdftiles/cache"
	"github.com/drummonds/pdftiles/engine/pdfrenderer"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// InjectLogger hands one logger to every package of the pipeline
func InjectLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	Logger = logger
	cache.Logger = logger
	pdfrenderer.Logger = logger
}
