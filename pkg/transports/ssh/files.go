package ssh

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pkg/sftp"

	"github.com/openfroyo/pgfroyo/pkg/execx"
)

// Exists implements fsys.Checker over SFTP. Data directories are usually
// unreadable by the login user, so a permission error is retried with
// "test -e" under the fallback user when one is configured.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return false, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return false, &TransportError{
			Op:          "stat",
			Err:         fmt.Errorf("failed to start sftp: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	_, err = sftpClient.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	case errors.Is(err, os.ErrPermission) && c.fallbackUser != "":
		c.logger.Debug().Str("path", path).Str("user", c.fallbackUser).Msg("sftp stat denied, retrying with test -e")
		return c.testExists(ctx, path)
	default:
		return false, &TransportError{Op: "stat", Err: fmt.Errorf("failed to stat %s: %w", path, err)}
	}
}

func (c *Client) testExists(ctx context.Context, path string) (bool, error) {
	res, err := c.Run(ctx, execx.Invocation{Program: "test", Args: []string{"-e", path}, User: c.fallbackUser})
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, &TransportError{
			Op:  "stat",
			Err: fmt.Errorf("test -e %s exited with %d: %s", path, res.ExitCode, res.Stderr),
		}
	}
}
