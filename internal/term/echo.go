package term

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// EchoEnabled reports whether the terminal behind f currently echoes input.
// Interactive programs clear the echo flag while reading passwords; the
// proxy uses that as the signal to stop capturing input bytes.
func EchoEnabled(f *os.File) (bool, error) {
	tio, err := unix.IoctlGetTermios(int(f.Fd()), ioctlReadTermios)
	if err != nil {
		return false, fmt.Errorf("read termios: %w", err)
	}
	return tio.Lflag&unix.ECHO != 0, nil
}

// SetEcho sets the terminal's echo flag.
func SetEcho(f *os.File, on bool) error {
	fd := int(f.Fd())
	tio, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return fmt.Errorf("read termios: %w", err)
	}
	if on {
		tio.Lflag |= unix.ECHO
	} else {
		tio.Lflag &^= unix.ECHO
	}
	if err := unix.IoctlSetTermios(fd, ioctlWriteTermios, tio); err != nil {
		return fmt.Errorf("write termios: %w", err)
	}
	return nil
}
