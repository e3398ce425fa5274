// Package inventory loads device targets from CSV files or plain IP lists.
//
// CSV files carry one device per row with an "ip" column, optional
// username/password/port/state columns and any number of command<N> columns.
// Plain lists carry one host per line; "#" starts a comment. Rows that cannot
// be turned into a target are reported as warnings and skipped.
package inventory

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/harrison/crestprov/internal/models"
)

// Format identifies how a configuration file was parsed.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatText Format = "text"
)

// DefaultFiles are searched in order when no configuration file is named.
var DefaultFiles = []string{"devices.csv", "devices.txt", "crestron_devices.csv", "config.csv"}

// ErrNoConfigFile is returned by FindDefault when none of DefaultFiles exist.
var ErrNoConfigFile = errors.New("no device configuration file found")

var (
	commandColumn = regexp.MustCompile(`(?i)^command(\d+)$`)
	hostnameRe    = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9\-]{0,62})(\.[A-Za-z0-9]([A-Za-z0-9\-]{0,62}))*$`)
)

var (
	ipAliases       = []string{"ip", "ip address", "ip_address", "host"}
	userAliases     = []string{"username", "user"}
	passwordAliases = []string{"password", "pass"}
	portAliases     = []string{"port"}
	stateAliases    = []string{"state", "password_state"}
)

// Defaults fills in values a row leaves out.
type Defaults struct {
	Username string
	Port     int
}

// Inventory is the result of loading a configuration file.
type Inventory struct {
	Path           string
	Format         Format
	Targets        []models.Target
	Warnings       []error // Row-level *models.ConfigError values
	CommandColumns []string
}

// NeedsPassword reports whether any target must have its password supplied before the run.
func (inv *Inventory) NeedsPassword() bool {
	for _, t := range inv.Targets {
		if t.PasswordPrompt {
			return true
		}
	}
	return false
}

// NeedsCommands reports whether any target has no commands of its own.
func (inv *Inventory) NeedsCommands() bool {
	for _, t := range inv.Targets {
		if len(t.Commands) == 0 {
			return true
		}
	}
	return false
}

// Load reads a configuration file, detecting CSV or plain-list format from its first line.
// A file that cannot be read is an error; individual bad rows are returned as warnings.
func Load(path string, defaults Defaults) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}
	return Parse(path, data, defaults)
}

// Parse parses configuration content. path is used only in messages.
func Parse(path string, data []byte, defaults Defaults) (*Inventory, error) {
	if defaults.Username == "" {
		defaults.Username = "admin"
	}
	if defaults.Port == 0 {
		defaults.Port = 22
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if DetectFormat(data) == FormatCSV {
		return parseCSV(path, data, defaults)
	}
	return parseText(path, data, defaults)
}

// DetectFormat treats content as CSV when the first line contains a comma or starts with "ip".
func DetectFormat(data []byte) Format {
	firstLine := string(data)
	if idx := strings.IndexAny(firstLine, "\r\n"); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)
	if strings.Contains(firstLine, ",") || strings.HasPrefix(strings.ToLower(firstLine), "ip") {
		return FormatCSV
	}
	return FormatText
}

type columnIndex struct {
	ip, user, password, port, state int
	commands                        []commandCol
}

type commandCol struct {
	number int
	index  int
	name   string
}

func parseCSV(path string, data []byte, defaults Defaults) (*Inventory, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &models.ConfigError{Path: path, Message: "file is empty"}
	}
	if err != nil {
		return nil, &models.ConfigError{Path: path, Row: 1, Message: "unreadable header", Err: err}
	}

	cols := indexColumns(header)
	if cols.ip < 0 {
		return nil, &models.ConfigError{Path: path, Row: 1, Message: "header has no ip column"}
	}

	inv := &Inventory{Path: path, Format: FormatCSV}
	for _, c := range cols.commands {
		inv.CommandColumns = append(inv.CommandColumns, c.name)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			inv.Warnings = append(inv.Warnings, &models.ConfigError{Path: path, Row: line, Message: "malformed row", Err: err})
			continue
		}
		line, _ := reader.FieldPos(0)
		if isBlankRecord(record) {
			continue
		}

		target, rowErr := buildTarget(record, cols, defaults, line)
		if rowErr != nil {
			rowErr.Path = path
			inv.Warnings = append(inv.Warnings, rowErr)
			continue
		}
		inv.Targets = append(inv.Targets, target)
	}

	return inv, nil
}

func indexColumns(header []string) columnIndex {
	cols := columnIndex{ip: -1, user: -1, password: -1, port: -1, state: -1}
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case cols.ip < 0 && contains(ipAliases, name):
			cols.ip = i
		case cols.user < 0 && contains(userAliases, name):
			cols.user = i
		case cols.password < 0 && contains(passwordAliases, name):
			cols.password = i
		case cols.port < 0 && contains(portAliases, name):
			cols.port = i
		case cols.state < 0 && contains(stateAliases, name):
			cols.state = i
		default:
			if m := commandColumn.FindStringSubmatch(name); m != nil {
				n, _ := strconv.Atoi(m[1])
				cols.commands = append(cols.commands, commandCol{number: n, index: i, name: strings.TrimSpace(raw)})
			}
		}
	}
	sort.SliceStable(cols.commands, func(a, b int) bool {
		return cols.commands[a].number < cols.commands[b].number
	})
	return cols
}

func buildTarget(record []string, cols columnIndex, defaults Defaults, line int) (models.Target, *models.ConfigError) {
	host := field(record, cols.ip)
	if host == "" {
		return models.Target{}, &models.ConfigError{Row: line, Message: "no IP address found, skipping"}
	}
	if err := validateHost(host); err != nil {
		return models.Target{}, &models.ConfigError{Row: line, Message: fmt.Sprintf("invalid host %q", host), Err: err}
	}

	target := models.Target{
		Host:     host,
		Port:     defaults.Port,
		Username: defaults.Username,
		State:    models.StateUnknown,
		Row:      line,
	}

	if user := field(record, cols.user); user != "" {
		target.Username = user
	}
	target.Password = field(record, cols.password)
	target.PasswordPrompt = target.Password == ""

	if portStr := field(record, cols.port); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return models.Target{}, &models.ConfigError{Row: line, Message: fmt.Sprintf("invalid port %q", portStr), Err: err}
		}
		target.Port = port
	}

	if stateStr := field(record, cols.state); stateStr != "" {
		state, err := models.ParsePasswordState(stateStr)
		if err != nil {
			return models.Target{}, &models.ConfigError{Row: line, Message: "invalid state", Err: err}
		}
		target.State = state
	}

	for _, c := range cols.commands {
		if cmd := field(record, c.index); cmd != "" {
			target.Commands = append(target.Commands, cmd)
		}
	}

	return target, nil
}

func parseText(path string, data []byte, defaults Defaults) (*Inventory, error) {
	inv := &Inventory{Path: path, Format: FormatText}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if idx := strings.Index(text, "#"); idx >= 0 {
			text = text[:idx]
		}
		host := strings.TrimSpace(text)
		if host == "" {
			continue
		}
		if err := validateHost(host); err != nil {
			inv.Warnings = append(inv.Warnings, &models.ConfigError{Path: path, Row: line, Message: fmt.Sprintf("invalid host %q", host), Err: err})
			continue
		}
		inv.Targets = append(inv.Targets, models.Target{
			Host:           host,
			Port:           defaults.Port,
			Username:       defaults.Username,
			PasswordPrompt: true,
			State:          models.StateUnknown,
			Row:            line,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}

	return inv, nil
}

// FindDefault returns the first of DefaultFiles present in dir.
func FindDefault(dir string) (string, error) {
	for _, name := range DefaultFiles {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w (looked for %s)", ErrNoConfigFile, strings.Join(DefaultFiles, ", "))
}

func validateHost(host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 || !hostnameRe.MatchString(host) {
		return errors.New("not an IP address or hostname")
	}
	return nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
