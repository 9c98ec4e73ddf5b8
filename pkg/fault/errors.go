package fault

import "errors"

var (
	ErrAlreadyExists         = errors.New("resource already exists")
	ErrCannotDeleteFile      = errors.New("cannot delete file")
	ErrDuplicateName         = errors.New("duplicate name")
	ErrFileAlreadyExists     = errors.New("file already exists")
	ErrFileFault             = errors.New("file fault")
	ErrFileLocked            = errors.New("file locked")
	ErrFileNotFound          = errors.New("file not found")
	ErrInvalidPowerState     = errors.New("invalid power state")
	ErrInvalidProperty       = errors.New("invalid property")
	ErrManagedObjectNotFound = errors.New("managed object not found")
	ErrNoDiskSpace           = errors.New("insufficient disk space")
	ErrNoPermission          = errors.New("no permission")
	ErrNotAuthenticated      = errors.New("not authenticated")
	ErrTaskInProgress        = errors.New("entity has another operation in process")
	ErrToolsUnavailable      = errors.New("VMware Tools is not running")
)

var sentinels = map[string]error{
	AlreadyExists:         ErrAlreadyExists,
	CannotDeleteFile:      ErrCannotDeleteFile,
	DuplicateName:         ErrDuplicateName,
	FileAlreadyExists:     ErrFileAlreadyExists,
	FileFault:             ErrFileFault,
	FileLocked:            ErrFileLocked,
	FileNotFound:          ErrFileNotFound,
	InvalidPowerState:     ErrInvalidPowerState,
	InvalidProperty:       ErrInvalidProperty,
	ManagedObjectNotFound: ErrManagedObjectNotFound,
	NoDiskSpace:           ErrNoDiskSpace,
	NoPermission:          ErrNoPermission,
	NotAuthenticated:      ErrNotAuthenticated,
	TaskInProgress:        ErrTaskInProgress,
	ToolsUnavailable:      ErrToolsUnavailable,
}

// Sentinel returns the sentinel error for a known fault identifier, or nil.
func Sentinel(name string) error {
	return sentinels[NormalizeName(name)]
}

// LocalizedFault is the fault payload attached to a failed task or lease.
type LocalizedFault struct {
	Name             string            `json:"name"`
	LocalizedMessage string            `json:"localizedMessage"`
	Details          map[string]string `json:"details,omitempty"`
}

// Translate turns a localized fault into a Fault. msg overrides the localized
// message when it is not empty.
func Translate(lf *LocalizedFault, msg string) *Fault {
	if lf == nil {
		if msg == "" {
			msg = "unknown fault"
		}
		return &Fault{Message: msg}
	}

	if msg == "" {
		msg = lf.LocalizedMessage
	}

	var names []string
	if lf.Name != "" {
		names = []string{lf.Name}
	}

	f := New(names, msg)
	if len(lf.Details) > 0 {
		f = f.WithDetails(lf.Details)
	}

	return f
}
