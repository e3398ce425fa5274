package inventory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrison/crestprov/internal/filelock"
)

// Sample file names written by WriteSamples.
const (
	SampleCSVName  = "devices_sample.csv"
	SampleTextName = "devices_sample.txt"
)

const sampleCSV = `ip,username,password,state,command1,command2,command3,command4,command5
10.0.1.36,admin,mypassword,factory,ipconfig,ver,hostname,uptime,whoami
10.0.1.37,admin,mypassword,,ipconfig,ver,hostname,,
10.0.1.38,admin,mypassword,,ipconfig,ver,hostname,uptime,whoami
10.0.1.39,admin,mypassword,provisioned,ver,hostname,,,
10.0.1.40,admin,mypassword,,ipconfig,ver,hostname,uptime,
`

const sampleText = `# Crestron device list: one IP address or hostname per line.
# The admin password and the commands to run are asked for at startup.
10.0.1.36
10.0.1.37
10.0.1.38
10.0.1.39
10.0.1.40
`

// WriteSamples writes example CSV and plain-list configuration files into dir.
// Existing files are left untouched unless overwrite is set.
func WriteSamples(dir string, overwrite bool) ([]string, error) {
	files := []struct {
		name    string
		content string
	}{
		{SampleCSVName, sampleCSV},
		{SampleTextName, sampleText},
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if !overwrite {
			if _, err := os.Stat(path); err == nil {
				return written, fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
		if err := filelock.AtomicWrite(path, []byte(f.content)); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
