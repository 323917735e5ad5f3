// Package sftp ingests files dropped on an SFTP server, the classic
// nightly-export path for core banking hosts.
package sftp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	sftpclient "github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/sources/fileformat"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
)

// remoteFile is one file selected for the pass.
type remoteFile struct {
	Name     string
	Modified time.Time
}

// Source drains matching files from a remote directory per pass.
type Source struct {
	conn   *ssh.Client
	client *sftpclient.Client
	logger *zap.Logger

	dir    string
	files  []remoteFile
	idx    int
	handle io.ReadCloser
	reader *fileformat.Reader

	format      fileformat.Options
	archive     bool
	remove      bool
	deadline    time.Time
	completedWM time.Time
}

// New creates an unopened SFTP source.
func New() *Source {
	return &Source{logger: logger.Get().With(zap.String("connector", "sftp"))}
}

// Open dials the server and lists the pass's files.
func (s *Source) Open(ctx context.Context, params core.OpenParams) error {
	conn, client, err := dial(params)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = client

	s.dir = params.StringDefault("remote_path", "/exports/")
	s.format = fileformat.Options{
		Format:    params.StringDefault("file_format", "csv"),
		Delimiter: fileformat.DelimiterOf(params.StringDefault("csv_delimiter", ",")),
		Header:    true,
	}
	s.archive = params.Bool("archive_after_download", true)
	s.remove = params.Bool("delete_after_download", false)
	s.deadline = time.Now().Add(time.Duration(params.Int("max_runtime_minutes", 60)) * time.Minute)

	var since time.Time
	if params.Watermark != "" {
		if t, err := time.Parse(time.RFC3339Nano, params.Watermark); err == nil {
			since = t
		}
	}
	s.completedWM = since

	entries, err := client.ReadDir(s.dir)
	if err != nil {
		return wrapSFTPErr(err, "listing remote directory failed")
	}
	pattern := params.StringDefault("file_pattern", "*.csv")
	for _, entry := range entries {
		if entry.IsDir() || !entry.ModTime().After(since) {
			continue
		}
		if ok, _ := path.Match(pattern, entry.Name()); !ok {
			continue
		}
		s.files = append(s.files, remoteFile{Name: entry.Name(), Modified: entry.ModTime()})
	}
	sort.Slice(s.files, func(i, j int) bool {
		return s.files[i].Modified.Before(s.files[j].Modified)
	})
	s.logger.Info("pass planned", zap.Int("files", len(s.files)))
	_ = ctx
	return nil
}

// Fetch streams records from the current file, advancing when it drains.
func (s *Source) Fetch(ctx context.Context, max int) ([]model.Record, bool, error) {
	var out []model.Record
	for len(out) < max {
		if s.reader == nil {
			if s.idx >= len(s.files) {
				return out, true, nil
			}
			if time.Now().After(s.deadline) {
				s.logger.Warn("runtime budget exhausted, finishing pass early")
				return out, true, nil
			}
			if err := s.openFile(); err != nil {
				return out, false, err
			}
		}

		rec, err := s.reader.Next()
		if err == io.EOF {
			if err := s.finishFile(); err != nil {
				return out, false, err
			}
			continue
		}
		file := s.files[s.idx]
		if err != nil {
			rec.Source = map[string]string{"file": file.Name}
			out = append(out, rec)
			continue
		}
		rec.Source = map[string]string{"file": file.Name, "line": rec.Source["line"]}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = file.Modified
		}
		out = append(out, rec)
	}
	_ = ctx
	return out, false, nil
}

func (s *Source) openFile() error {
	file := s.files[s.idx]
	handle, err := s.client.Open(path.Join(s.dir, file.Name))
	if err != nil {
		return wrapSFTPErr(err, "opening remote file failed")
	}
	reader, err := fileformat.NewReader(handle, s.format)
	if err != nil {
		_ = handle.Close()
		return errors.Wrap(err, errors.TypeOf(err), "opening "+file.Name+" failed")
	}
	s.handle = handle
	s.reader = reader
	return nil
}

func (s *Source) finishFile() error {
	file := s.files[s.idx]
	_ = s.reader.Close()
	_ = s.handle.Close()
	s.reader = nil
	s.handle = nil

	src := path.Join(s.dir, file.Name)
	switch {
	case s.remove:
		if err := s.client.Remove(src); err != nil {
			s.logger.Warn("removing processed file failed",
				zap.String("file", file.Name), zap.Error(err))
		}
	case s.archive:
		dst := path.Join(s.dir, "processed", file.Name)
		_ = s.client.MkdirAll(path.Join(s.dir, "processed"))
		if err := s.client.Rename(src, dst); err != nil {
			s.logger.Warn("archiving processed file failed",
				zap.String("file", file.Name), zap.Error(err))
		}
	}
	if file.Modified.After(s.completedWM) {
		s.completedWM = file.Modified
	}
	s.idx++
	return nil
}

// Checkpoint returns the newest fully-processed file's timestamp.
func (s *Source) Checkpoint(_ context.Context) (string, error) {
	if s.completedWM.IsZero() {
		return "", nil
	}
	return s.completedWM.UTC().Format(time.RFC3339Nano), nil
}

// Close tears down the SFTP session and SSH connection.
func (s *Source) Close(_ context.Context) error {
	if s.reader != nil {
		_ = s.reader.Close()
	}
	if s.handle != nil {
		_ = s.handle.Close()
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Test dials and verifies the remote directory is readable.
func (s *Source) Test(ctx context.Context, params core.OpenParams) error {
	conn, client, err := dial(params)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer client.Close()

	dir := params.StringDefault("remote_path", "/exports/")
	if _, err := client.ReadDir(dir); err != nil {
		return wrapSFTPErr(err, "remote directory probe failed")
	}
	_ = ctx
	return nil
}

func dial(params core.OpenParams) (*ssh.Client, *sftpclient.Client, error) {
	host := params.String("host")
	if host == "" {
		return nil, nil, errors.New(errors.ErrorTypeConfig, "host is required")
	}
	username := params.Cred("username")
	if username == "" {
		return nil, nil, errors.New(errors.ErrorTypeAuthentication, "username credential is required")
	}

	var auth []ssh.AuthMethod
	switch params.StringDefault("auth_method", "password") {
	case "private_key":
		keyPEM := params.Cred("private_key")
		if keyPEM == "" {
			return nil, nil, errors.New(errors.ErrorTypeAuthentication, "private_key credential is required")
		}
		signer, err := ssh.ParsePrivateKey([]byte(keyPEM))
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "parsing SSH key failed")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	default:
		password := params.Cred("password")
		if password == "" {
			return nil, nil, errors.New(errors.ErrorTypeAuthentication, "password credential is required")
		}
		auth = append(auth, ssh.Password(password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opted out via known_hosts_check
	if params.Bool("known_hosts_check", true) {
		kh, err := knownhosts.New(knownHostsPath())
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeConfig, "loading known_hosts failed")
		}
		hostKeyCallback = kh
	}

	addr := fmt.Sprintf("%s:%d", host, params.Int("port", 22))
	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	})
	if err != nil {
		return nil, nil, wrapSFTPErr(err, "SSH dial failed")
	}
	client, err := sftpclient.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, wrapSFTPErr(err, "SFTP session failed")
	}
	return conn, client, nil
}

func knownHostsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "known_hosts"
	}
	return path.Join(home, ".ssh", "known_hosts")
}

func wrapSFTPErr(err error, msg string) error {
	t := errors.ErrorTypeConnection
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "unable to authenticate"),
		strings.Contains(text, "permission denied"),
		strings.Contains(text, "handshake failed"):
		t = errors.ErrorTypeAuthentication
	case strings.Contains(text, "file does not exist"),
		strings.Contains(text, "no such file"):
		t = errors.ErrorTypeNotFound
	}
	return errors.Wrap(err, t, msg)
}
