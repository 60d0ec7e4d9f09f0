// Package directory holds the static department reference data the queue core
// reads but never mutates. Entries come from a YAML file when configured and
// fall back to the built-in campus offices otherwise.
package directory

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/queue-service/internal/domain"
)

// DefaultDepartments mirrors the offices seeded for the campus app.
var DefaultDepartments = []domain.Department{
	{Code: "IO", Name: "International Office"},
	{Code: "FO", Name: "Financial Office"},
	{Code: "SA", Name: "Student Affairs"},
	{Code: "GA", Name: "Graduation Affairs"},
	{Code: "HC", Name: "Help Center"},
	{Code: "NC", Name: "Nish Card"},
	{Code: "PH", Name: "Printing House"},
	{Code: "ENG", Name: "Faculty of Engineering"},
	{Code: "MED", Name: "Faculty of Medicine"},
	{Code: "BUS", Name: "Faculty of Business"},
	{Code: "ARTS", Name: "Faculty of Arts"},
}

type file struct {
	Departments []domain.Department `yaml:"departments"`
}

// Directory is an immutable lookup of departments by code and by name.
// Safe for concurrent use.
type Directory struct {
	ordered []domain.Department
	byCode  map[string]domain.Department
	byName  map[string]domain.Department
}

// New validates departments and applies defaultCapacity where capacity is unset.
func New(departments []domain.Department, defaultCapacity int) (*Directory, error) {
	if len(departments) == 0 {
		return nil, fmt.Errorf("department directory is empty")
	}
	d := &Directory{
		byCode: make(map[string]domain.Department, len(departments)),
		byName: make(map[string]domain.Department, len(departments)),
	}
	for _, dept := range departments {
		dept.Code = strings.ToUpper(strings.TrimSpace(dept.Code))
		dept.Name = strings.TrimSpace(dept.Name)
		if dept.Code == "" || dept.Name == "" {
			return nil, fmt.Errorf("department requires code and name: %+v", dept)
		}
		if dept.Capacity <= 0 {
			dept.Capacity = defaultCapacity
		}
		if dept.Capacity <= 0 {
			return nil, fmt.Errorf("department %s has no capacity", dept.Code)
		}
		if _, dup := d.byCode[dept.Code]; dup {
			return nil, fmt.Errorf("duplicate department code %s", dept.Code)
		}
		if _, dup := d.byName[strings.ToLower(dept.Name)]; dup {
			return nil, fmt.Errorf("duplicate department name %q", dept.Name)
		}
		d.byCode[dept.Code] = dept
		d.byName[strings.ToLower(dept.Name)] = dept
		d.ordered = append(d.ordered, dept)
	}
	return d, nil
}

// Load reads departments from path, or returns the defaults when path is empty.
func Load(path string, defaultCapacity int) (*Directory, error) {
	if path == "" {
		return New(DefaultDepartments, defaultCapacity)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read departments file: %w", err)
	}
	var parsed file
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("parse departments file %s: %w", path, err)
	}
	return New(parsed.Departments, defaultCapacity)
}

// ByCode looks up a department by its code, case-insensitively.
func (d *Directory) ByCode(code string) (domain.Department, bool) {
	dept, ok := d.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return dept, ok
}

// ByName looks up a department by its display name, case-insensitively.
func (d *Directory) ByName(name string) (domain.Department, bool) {
	dept, ok := d.byName[strings.ToLower(strings.TrimSpace(name))]
	return dept, ok
}

// All returns departments in directory order.
func (d *Directory) All() []domain.Department {
	out := make([]domain.Department, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// Codes returns the sorted department codes.
func (d *Directory) Codes() []string {
	codes := make([]string, 0, len(d.byCode))
	for code := range d.byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// YAML renders the effective directory in the same shape Load accepts.
func (d *Directory) YAML() ([]byte, error) {
	return yaml.Marshal(file{Departments: d.All()})
}
