package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Source is one place a model can be loaded from.
type Source struct {
	Name string
	Open func(ctx context.Context) (Model, error)
}

// OpenDirFunc opens a model from a local directory of model files.
type OpenDirFunc func(dir string) (Model, error)

// DlibModelFiles are the files the dlib recognizer expects in its model directory.
var DlibModelFiles = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

// DirSource opens a model from a local directory.
func DirSource(dir string, open OpenDirFunc) Source {
	return Source{
		Name: "dir:" + dir,
		Open: func(ctx context.Context) (Model, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			info, err := os.Stat(dir)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				return nil, fmt.Errorf("%s is not a directory", dir)
			}
			return open(dir)
		},
	}
}

// HTTPSource downloads the model files from baseURL into cacheDir, skipping
// files already present, and then opens the directory.
func HTTPSource(baseURL, cacheDir string, files []string, client *http.Client, open OpenDirFunc) Source {
	if client == nil {
		client = http.DefaultClient
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return Source{
		Name: baseURL,
		Open: func(ctx context.Context) (Model, error) {
			if err := os.MkdirAll(cacheDir, 0o750); err != nil {
				return nil, fmt.Errorf("create model cache: %w", err)
			}
			for _, name := range files {
				if err := download(ctx, client, baseURL+"/"+name, filepath.Join(cacheDir, name)); err != nil {
					return nil, err
				}
			}
			return open(cacheDir)
		},
	}
}

func download(ctx context.Context, client *http.Client, url, dest string) error {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// LoadFirst tries sources in order and returns the first model that opens.
// When every source fails the returned error wraps ErrModelLoad and each
// individual failure.
func LoadFirst(ctx context.Context, sources []Source) (Model, string, error) {
	if len(sources) == 0 {
		return nil, "", fmt.Errorf("%w: no model sources configured", ErrModelLoad)
	}
	errs := []error{ErrModelLoad}
	for _, src := range sources {
		model, err := src.Open(ctx)
		if err == nil {
			return model, src.Name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", errors.Join(errs...)
}
