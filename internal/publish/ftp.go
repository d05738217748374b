// Package publish uploads rendered plot files to a remote host, for setups
// that serve dashboards from somewhere other than the Home Assistant www
// directory.
package publish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/moderntides/moderntides/internal/metrics"
)

// Uploader pushes files to an FTP destination. A nil Uploader is a no-op.
type Uploader struct {
	addr     string // host:port
	username string
	password string
	dir      string // remote directory, created if missing
}

// NewUploader returns an Uploader, or nil when addr is empty.
func NewUploader(addr, username, password, dir string) *Uploader {
	if addr == "" {
		return nil
	}
	if username == "" {
		username = "anonymous"
		password = "anonymous"
	}
	return &Uploader{addr: addr, username: username, password: password, dir: dir}
}

// UploadFiles uploads each local path, keeping its base name. Per-file
// failures are collected; one bad file does not stop the rest.
func (u *Uploader) UploadFiles(paths []string) error {
	if u == nil || len(paths) == 0 {
		return nil
	}

	conn, err := ftp.Dial(u.addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		metrics.PublishFailures.WithLabelValues("ftp").Inc()
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(u.username, u.password); err != nil {
		metrics.PublishFailures.WithLabelValues("ftp").Inc()
		return fmt.Errorf("ftp login: %w", err)
	}

	if u.dir != "" {
		// MakeDir fails if the directory exists; only the ChangeDir result
		// matters.
		_ = conn.MakeDir(u.dir)
		if err := conn.ChangeDir(u.dir); err != nil {
			metrics.PublishFailures.WithLabelValues("ftp").Inc()
			return fmt.Errorf("ftp cd %s: %w", u.dir, err)
		}
	}

	var errs []error
	for _, path := range paths {
		if err := u.store(conn, path); err != nil {
			metrics.PublishFailures.WithLabelValues("ftp").Inc()
			errs = append(errs, fmt.Errorf("upload %s: %w", filepath.Base(path), err))
		}
	}
	return errors.Join(errs...)
}

func (u *Uploader) store(conn *ftp.ServerConn, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return conn.Stor(filepath.Base(path), f)
}
