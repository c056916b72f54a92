//go:build !linux && !darwin

package gxserialdemux

func getPortNames() ([]string, error) {
	return nil, ErrUnsupported
}

func openChannels(*Settings) (*channels, error) {
	return nil, ErrUnsupported
}
