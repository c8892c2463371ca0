// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package storage

import (
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ManuGH/aircheck/internal/driver"
	"github.com/ManuGH/aircheck/internal/log"
	"github.com/ManuGH/aircheck/internal/metrics"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sftpConnectTimeout = 15 * time.Second

func init() {
	driver.RegisterStorage("sftp", newSFTP)
}

// SFTP uploads recordings to a remote host. Uploads run on an internal
// action queue with exponential retry backoff, so a flaky link never blocks
// the engine.
type SFTP struct {
	events driver.StorageEvents

	host       string
	port       int
	user       string
	password   string
	keyFile    string
	knownHosts string
	template   *PathTemplate

	queue  *actionQueue[upload]
	logger zerolog.Logger
}

type upload struct {
	source   string
	show     string
	filePath string
	dest     string
}

func newSFTP(cfg map[string]any) (driver.Storage, error) {
	for _, field := range []string{"host", "remote_path", "username"} {
		if v, ok := cfg[field].(string); !ok || v == "" {
			return nil, fmt.Errorf("invalid SFTP storage driver configuration: no %q field provided", field)
		}
	}

	template, err := CompilePathTemplate(cfg["remote_path"].(string))
	if err != nil {
		return nil, fmt.Errorf("invalid remote SFTP storage path: %w", err)
	}

	port := 22
	switch v := cfg["port"].(type) {
	case int:
		port = v
	case string:
		port, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SFTP port %q", v)
		}
	case nil:
	default:
		return nil, fmt.Errorf("invalid SFTP port %v", v)
	}

	s := &SFTP{
		host:       cfg["host"].(string),
		port:       port,
		user:       cfg["username"].(string),
		template:   template,
		logger:     log.WithComponent("storage.sftp"),
		password:   stringField(cfg, "password"),
		keyFile:    stringField(cfg, "key_file"),
		knownHosts: stringField(cfg, "known_hosts"),
	}
	if s.password == "" && s.keyFile == "" {
		return nil, fmt.Errorf("invalid SFTP storage driver configuration: need a password or a key_file")
	}
	if s.knownHosts == "" {
		s.logger.Warn().
			Str("host", s.host).
			Msg("no known_hosts configured; host keys will not be verified")
	}

	s.queue = newActionQueue("sftp", s.upload)
	return s, nil
}

func stringField(cfg map[string]any, key string) string {
	v, _ := cfg[key].(string)
	return v
}

// Events implements driver.Storage.
func (s *SFTP) Events() *driver.StorageEvents { return &s.events }

// Save enqueues the upload and returns immediately.
func (s *SFTP) Save(source, show, filePath string) {
	dest := s.template.Render(source, show) + filepath.Ext(filePath)
	s.queue.add(upload{source: source, show: show, filePath: filePath, dest: dest})
}

// Shutdown drains pending uploads and stops the queue worker.
func (s *SFTP) Shutdown() {
	s.queue.shutdown()
}

func (s *SFTP) upload(item upload) error {
	err := s.put(item)
	if err != nil {
		metrics.RecordSave("sftp", false)
		s.events.Error.Emit(driver.StorageError{Source: item.source, Show: item.show, Err: err})
		return err
	}

	location := fmt.Sprintf("%s:%s", s.host, item.dest)
	s.logger.Info().
		Str("source", item.source).
		Str("show", item.show).
		Str("location", location).
		Msg("recording uploaded")
	metrics.RecordSave("sftp", true)
	s.events.Save.Emit(driver.StorageSave{Source: item.source, Show: item.show, Location: location})
	return nil
}

func (s *SFTP) put(item upload) error {
	clientCfg, err := s.clientConfig()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	conn, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.MkdirAll(path.Dir(item.dest)); err != nil {
		return fmt.Errorf("create remote directory: %w", err)
	}

	in, err := os.Open(item.filePath)
	if err != nil {
		return fmt.Errorf("open capture file: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := client.Create(item.dest)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("upload recording: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("finalize remote file: %w", err)
	}
	return nil
}

func (s *SFTP) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if s.keyFile != "" {
		data, err := os.ReadFile(s.keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.password != "" {
		auth = append(auth, ssh.Password(s.password))
	}

	hostKeys := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in via empty known_hosts
	if s.knownHosts != "" {
		cb, err := knownhosts.New(s.knownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKeys = cb
	}

	return &ssh.ClientConfig{
		User:            s.user,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         sftpConnectTimeout,
	}, nil
}
