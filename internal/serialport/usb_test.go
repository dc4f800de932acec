package serialport

import (
	"os"
	"path/filepath"
	"testing"
)

// TestReadSysfsFile tests the sysfs file reading helper
func TestReadSysfsFile(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		expected string
		setup    func(string) error
	}{
		{
			name:     "normal file",
			expected: "1234",
			setup: func(path string) error {
				return os.WriteFile(path, []byte("1234\n"), 0644)
			},
		},
		{
			name:     "file with spaces",
			expected: "test value",
			setup: func(path string) error {
				return os.WriteFile(path, []byte("  test value  \n"), 0644)
			},
		},
		{
			name:     "nonexistent file",
			expected: "",
			setup:    func(path string) error { return nil },
		},
		{
			name:     "empty file",
			expected: "",
			setup: func(path string) error {
				return os.WriteFile(path, []byte(""), 0644)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testFile := filepath.Join(tmpDir, tt.name)
			if err := tt.setup(testFile); err != nil {
				t.Fatalf("Setup failed: %v", err)
			}

			result := readSysfsFile(testFile)
			if result != tt.expected {
				t.Errorf("readSysfsFile() = %q, expected %q", result, tt.expected)
			}
		})
	}
}

// mockSysfs builds class/tty/<name>/device pointing at target, with USB
// device attributes in usbDevicePath.
func mockSysfs(t *testing.T, root, name, target, usbDevicePath, interfacePath string) {
	t.Helper()

	classTtyPath := filepath.Join(root, "class", "tty", name)
	for _, dir := range []string{target, classTtyPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	deviceFiles := map[string]string{
		"idVendor":     "0483",
		"idProduct":    "5740",
		"serial":       "400",
		"manufacturer": "nanovna.com",
		"product":      "NanoVNA-H",
		"busnum":       "1",
		"devnum":       "9",
	}
	for filename, content := range deviceFiles {
		path := filepath.Join(usbDevicePath, filename)
		if err := os.WriteFile(path, []byte(content+"\n"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", filename, err)
		}
	}
	if err := os.WriteFile(filepath.Join(interfacePath, "bInterfaceNumber"), []byte("00\n"), 0644); err != nil {
		t.Fatalf("Failed to write interface number: %v", err)
	}
	if err := os.Symlink(target, filepath.Join(classTtyPath, "device")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}
}

// TestEnrichUSBInfo tests USB metadata extraction with a mock sysfs structure
func TestEnrichUSBInfo(t *testing.T) {
	tmpDir := t.TempDir()
	orig := sysfsRoot
	sysfsRoot = tmpDir
	defer func() { sysfsRoot = orig }()

	// ttyACM: device -> interface directory
	usbDevicePath := filepath.Join(tmpDir, "devices", "usb1", "1-1.2.1")
	interfacePath := filepath.Join(usbDevicePath, "1-1.2.1:1.0")
	mockSysfs(t, tmpDir, "ttyACM0", interfacePath, usbDevicePath, interfacePath)

	// ttyUSB: device -> tty directory below the interface
	usbDevicePath2 := filepath.Join(tmpDir, "devices", "usb5", "5-2.3.1")
	interfacePath2 := filepath.Join(usbDevicePath2, "5-2.3.1:1.0")
	mockSysfs(t, tmpDir, "ttyUSB0", filepath.Join(interfacePath2, "ttyUSB0"), usbDevicePath2, interfacePath2)

	for _, name := range []string{"ttyACM0", "ttyUSB0"} {
		t.Run(name, func(t *testing.T) {
			info := &PortInfo{Name: name, Path: "/dev/" + name}
			enrichUSBInfo(info)

			tests := []struct {
				name     string
				got      string
				expected string
			}{
				{"VendorID", info.VendorID, "0483"},
				{"ProductID", info.ProductID, "5740"},
				{"SerialNumber", info.SerialNumber, "400"},
				{"InterfaceNumber", info.InterfaceNumber, "00"},
				{"BusNumber", info.BusNumber, "1"},
				{"DeviceNumber", info.DeviceNumber, "9"},
				{"Manufacturer", info.Manufacturer, "nanovna.com"},
				{"Product", info.Product, "NanoVNA-H"},
			}

			for _, tt := range tests {
				if tt.got != tt.expected {
					t.Errorf("%s = %q, expected %q", tt.name, tt.got, tt.expected)
				}
			}
			if !info.IsUSB() {
				t.Error("IsUSB should be true once vendor/product are known")
			}
		})
	}
}

// TestEnrichUSBInfoGracefulFailure tests that enrichUSBInfo handles missing files gracefully
func TestEnrichUSBInfoGracefulFailure(t *testing.T) {
	info := &PortInfo{
		Name: "ttyUSB999",
		Path: "/dev/ttyUSB999",
	}

	enrichUSBInfo(info)

	if info.VendorID != "" {
		t.Errorf("VendorID should be empty, got %q", info.VendorID)
	}
	if info.ProductID != "" {
		t.Errorf("ProductID should be empty, got %q", info.ProductID)
	}
	if info.SerialNumber != "" {
		t.Errorf("SerialNumber should be empty, got %q", info.SerialNumber)
	}
}
