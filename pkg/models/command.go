package models

// Command names accepted from clients.
const (
	CmdAddWatchedFiles        = "addWatchedFiles"
	CmdSelectFile             = "selectFile"
	CmdRefreshWatchedFileList = "refreshWatchedFileList"
)

// Command is a client request in its wire form.
type Command struct {
	Cmd          string   `json:"cmd"`
	WatchedFiles []string `json:"watchedFiles,omitempty"`
	SelectFile   string   `json:"selectFile,omitempty"`
}

// WatchList is the body of the daemon's /api/watched endpoint, in both
// directions.
type WatchList struct {
	Paths []string `json:"paths"`
}
