package setup

// Defaults for the install command's flags.
const (
	InstallRoot     = "/install"
	BootInterface   = "eth0"
	BackendDir      = "U.L.I."
	ImageSourceMode = "ssh"
	SSHUser         = "install"
	ShareDir        = "/mnt/share"
	ImageDir        = "/images"
)
