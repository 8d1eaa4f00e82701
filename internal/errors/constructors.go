package errors

// Convenience functions for common error patterns

// Config errors

func ConfigNotFound(path string) *InstallError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *InstallError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *InstallError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Disk and filesystem errors

func DeviceNotFound(path string) *InstallError {
	return New(CategoryDisk, SeverityFatal, "block device not found").
		WithContext("device", path)
}

func LayoutInvalid(device, reason string) *InstallError {
	return New(CategoryDisk, SeverityFatal, "disk layout invalid").
		WithContext("device", device).
		WithContext("reason", reason)
}

func MountFailed(mountpoint string, cause error) *InstallError {
	return Wrap(cause, CategoryFileSystem, SeverityFatal, "mount failed").
		WithContext("mountpoint", mountpoint)
}

// Installation step errors

func StepFailed(step string, cause error) *InstallError {
	return Wrap(cause, CategoryInstall, SeverityFatal, "installation step failed").
		WithContext("step", step)
}

func SysCallFailed(command string, exitCode int, cause error) *InstallError {
	return Wrap(cause, CategorySysCall, SeverityFatal, "command failed").
		WithContext("command", command).
		WithContext("exit_code", exitCode)
}

func BootloaderFailed(bootloader string, cause error) *InstallError {
	return Wrap(cause, CategoryBootloader, SeverityFatal, "bootloader installation failed").
		WithContext("bootloader", bootloader)
}

// Network and mirror errors

func MirrorFetchError(url string, cause error) *InstallError {
	return WrapRetryable(cause, CategoryMirror, SeverityWarning, "mirror status fetch failed").
		WithContext("url", url)
}

func DownloadError(url string, cause error) *InstallError {
	return WrapRetryable(cause, CategoryNetwork, SeverityWarning, "download failed").
		WithContext("url", url)
}

func GitCloneError(repo string, cause error) *InstallError {
	return Wrap(cause, CategoryGit, SeverityFatal, "repository clone failed").
		WithContext("repository", repo)
}

// Auth errors

func UserInvalid(username, reason string) *InstallError {
	return New(CategoryAuth, SeverityFatal, "user entry invalid").
		WithContext("username", username).
		WithContext("reason", reason)
}
