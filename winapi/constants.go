package winapi

type HINTERNET uintptr
type HKEY uintptr
type BOOL int32

const (
	ERROR_SUCCESS   = 0x0
	ERROR_MORE_DATA = 0xea
)

const (
	REG_SZ    = 0x1
	REG_DWORD = 0x4
)

const HKEY_LOCAL_MACHINE HKEY = 0x80000002

const (
	WINHTTP_ACCESS_TYPE_DEFAULT_PROXY   = 0
	WINHTTP_ACCESS_TYPE_NO_PROXY        = 1
	WINHTTP_ACCESS_TYPE_NAMED_PROXY     = 3
	WINHTTP_ACCESS_TYPE_AUTOMATIC_PROXY = 4
)

const (
	WinRMClientAgent = "Microsoft WinRM Client"
	WSManClientKey   = `SOFTWARE\Microsoft\Windows\CurrentVersion\WSMAN\Client`
	TrustedHosts     = "TrustedHosts"
	TrustedHostsList = "TrustedHostsList"
)

var accessTypeNames = map[uint32]string{
	WINHTTP_ACCESS_TYPE_DEFAULT_PROXY:   "DEFAULT_PROXY",
	WINHTTP_ACCESS_TYPE_NO_PROXY:        "NO_PROXY",
	WINHTTP_ACCESS_TYPE_NAMED_PROXY:     "NAMED_PROXY",
	WINHTTP_ACCESS_TYPE_AUTOMATIC_PROXY: "AUTOMATIC_PROXY",
}

// isLocalMachine accepts the predefined handle whether the caller passed it
// zero-extended or sign-extended.
func isLocalMachine(key HKEY) bool {
	high := uint64(key) >> 32
	return uint32(key) == uint32(HKEY_LOCAL_MACHINE) && (high == 0 || high == 0xFFFFFFFF)
}
