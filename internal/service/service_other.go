//go:build !linux && !darwin

package service

type unsupportedService struct{}

// New returns a manager whose operations all fail with ErrUnsupported.
func New(args ...string) Service {
	return unsupportedService{}
}

func (unsupportedService) Install() error    { return ErrUnsupported }
func (unsupportedService) Uninstall() error  { return ErrUnsupported }
func (unsupportedService) IsInstalled() bool { return false }

func (unsupportedService) Status() (string, error) {
	return "unsupported", nil
}
