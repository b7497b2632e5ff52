package model

// ScanConfig — неизменяемая после валидации конфигурация скана (§3, §4.1).
type ScanConfig struct {
	TargetURL          string
	SQLi                bool
	XSS                 bool
	DBMSHint            string
	CrawlDepth          int
	Level               int
	Risk                int
	ThreadCount         int
	ToolTimeoutSeconds  int
	XSSWorkerCount      int
	XSSDelayMillis      int
	EnableExploitation  bool
	CustomHeaders       []HeaderKV
	SQLiToolPath        string
	XSSToolPath         string
	TempDir             string
	OutputDir           string
}

// HeaderKV — один заголовок из списка CustomHeaders ("Name: Value").
type HeaderKV struct {
	Name  string
	Value string
}
