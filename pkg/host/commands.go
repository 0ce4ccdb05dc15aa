package host

import (
	"io"
	"time"

	"github.com/muxable/bthost/pkg/hci"
	"github.com/pkg/errors"
)

const commandTimeout = 2 * time.Second

func checkStatus(cc *hci.CommandComplete) error {
	if len(cc.ReturnParameters) == 0 {
		return io.ErrShortBuffer
	}
	if cc.ReturnParameters[0] != 0 {
		return errors.Errorf("command failed with status %#x", cc.ReturnParameters[0])
	}
	return nil
}

// Reset issues HCI_Reset and waits for its completion.
func (a *Adapter) Reset() error {
	cc, err := a.Command(hci.NewGenericCommand(hci.OpcodeReset), commandTimeout)
	if err != nil {
		return err
	}
	return checkStatus(cc)
}

// ReadBDAddr reads the controller's public device address.
func (a *Adapter) ReadBDAddr() (hci.BDAddr, error) {
	var addr hci.BDAddr
	cc, err := a.Command(hci.NewGenericCommand(hci.OpcodeReadBDAddr), commandTimeout)
	if err != nil {
		return addr, err
	}
	if err := checkStatus(cc); err != nil {
		return addr, err
	}
	if copy(addr[:], cc.ReturnParameters[1:]) != 6 {
		return addr, io.ErrShortWrite
	}
	return addr, nil
}

// SetEventMask configures which events the controller reports.
func (a *Adapter) SetEventMask(mask hci.EventMask) error {
	cc, err := a.Command(&hci.SetEventMaskCommand{EventMask: mask}, commandTimeout)
	if err != nil {
		return err
	}
	return checkStatus(cc)
}

// LESetEventMask configures which LE meta events the controller reports.
func (a *Adapter) LESetEventMask(mask hci.LEEventMask) error {
	cc, err := a.Command(&hci.LESetEventMaskCommand{LEEventMask: mask}, commandTimeout)
	if err != nil {
		return err
	}
	return checkStatus(cc)
}
