// Package serialport provides raw-mode serial port access for the rig's
// instruments on Linux.
//
// Ports are opened with functional options:
//
//	port, err := serialport.Open("/dev/ttyACM0",
//	    serialport.WithBaudRate(9600),
//	    serialport.WithReadTimeout(time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	defer port.Close()
//
// Reads use VMIN=0/VTIME, so a Read with no pending data returns (0, nil)
// after the read timeout instead of blocking forever. Line-oriented
// consumers rely on this to notice shutdown requests between reads.
//
// ListPorts, GetPortInfo and FindByUSBID expose /dev discovery and the USB
// metadata (vendor/product IDs, bus and device numbers) read from sysfs.
package serialport
