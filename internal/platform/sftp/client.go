// Package sftp wraps the provider transfer connection. Uploads go to a
// temporary name and are renamed into place so the provider never picks up a
// half-written bundle.
package sftp

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"printflow/internal/platform/config"
)

// Client is a thin wrapper over one SFTP session.
type Client struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

// Dial opens the SSH connection and SFTP subsystem described by cfg.
func Dial(cfg config.SFTP) (*Client, error) {
	key, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read sftp private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse sftp private key: %w", err)
	}

	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	sshClient, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
	})
	if err != nil {
		return nil, fmt.Errorf("dial sftp %s: %w", cfg.Host, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	return &Client{ssh: sshClient, sftp: sftpClient}, nil
}

// hostKeyCallback pins the provider host key from config. Verification can
// only be skipped through the explicit insecure flag, for local development
// against a throwaway server.
func hostKeyCallback(cfg config.SFTP) (ssh.HostKeyCallback, error) {
	if cfg.HostKey != "" {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
		if err != nil {
			return nil, fmt.Errorf("parse sftp host key: %w", err)
		}
		return ssh.FixedHostKey(key), nil
	}
	if cfg.InsecureSkipHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, fmt.Errorf("sftp host key is not configured")
}

// Upload streams the bundle produced by write to dir/name, writing to a
// ".tmp" sibling first and renaming only after a clean close.
func (c *Client) Upload(dir, name string, write func(io.Writer) error) error {
	tempPath := path.Join(dir, name+".tmp")
	finalPath := path.Join(dir, name)

	f, err := c.sftp.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tempPath, err)
	}
	if err := write(f); err != nil {
		f.Close()
		_ = c.sftp.Remove(tempPath)
		return fmt.Errorf("write %s: %w", tempPath, err)
	}
	if err := f.Close(); err != nil {
		_ = c.sftp.Remove(tempPath)
		return fmt.Errorf("close %s: %w", tempPath, err)
	}
	if err := c.sftp.PosixRename(tempPath, finalPath); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tempPath, finalPath, err)
	}
	return nil
}

// List returns the file names in dir, not recursing.
func (c *Client) List(dir string) ([]string, error) {
	infos, err := c.sftp.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

// Rename moves a remote file, atomically where the server supports it.
func (c *Client) Rename(oldPath, newPath string) error {
	if err := c.sftp.PosixRename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	return nil
}

// Open reads a remote file.
func (c *Client) Open(filePath string) (io.ReadCloser, error) {
	f, err := c.sftp.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	return f, nil
}

// Remove deletes a remote file.
func (c *Client) Remove(filePath string) error {
	if err := c.sftp.Remove(filePath); err != nil {
		return fmt.Errorf("remove %s: %w", filePath, err)
	}
	return nil
}

// Close tears down the SFTP session and SSH connection.
func (c *Client) Close() error {
	sftpErr := c.sftp.Close()
	sshErr := c.ssh.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}
