package cmd

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/config"
	"github.com/example/face-auth/internal/extractor"
	"github.com/example/face-auth/internal/extractrpc"
)

// defaultModelDir is tried when MODEL_SOURCES is empty and dlib is linked in.
const defaultModelDir = "models"

// modelSources turns MODEL_SOURCES into an ordered source chain. Entries are
// dir:<path>, http(s)://<base url> or grpc://<host:port>. With allowRemote
// false, grpc entries are rejected so an extractor never dials itself.
func modelSources(cfg config.CaptureConfig, dim int, logger *zap.Logger, allowRemote bool) ([]extractor.Source, error) {
	entries := cfg.ModelSources
	if len(entries) == 0 {
		if extractor.DlibAvailable {
			entries = append(entries, "dir:"+defaultModelDir)
		}
		if allowRemote && cfg.ExtractorAddr != "" {
			entries = append(entries, "grpc://"+cfg.ExtractorAddr)
		}
	}

	openDir := extractor.OpenDlib(cfg.FrameMaxSide)
	httpClient := &http.Client{Timeout: 5 * time.Minute}

	var sources []extractor.Source
	for _, entry := range entries {
		switch {
		case strings.HasPrefix(entry, "dir:"):
			sources = append(sources, extractor.DirSource(strings.TrimPrefix(entry, "dir:"), openDir))
		case strings.HasPrefix(entry, "http://"), strings.HasPrefix(entry, "https://"):
			sources = append(sources, extractor.HTTPSource(entry, cfg.ModelCacheDir, extractor.DlibModelFiles, httpClient, openDir))
		case strings.HasPrefix(entry, "grpc://"):
			if !allowRemote {
				return nil, fmt.Errorf("model source %q: remote sources are not allowed here", entry)
			}
			sources = append(sources, extractrpc.Source(strings.TrimPrefix(entry, "grpc://"), dim, logger))
		default:
			return nil, fmt.Errorf("unsupported model source %q", entry)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no model sources configured", extractor.ErrModelLoad)
	}
	return sources, nil
}
