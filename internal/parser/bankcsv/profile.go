package bankcsv

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Columns maps each logical field to the header aliases that may carry it.
// Aliases match a header exactly (case-insensitive) first and by substring
// second.
type Columns struct {
	Date        []string `yaml:"date"`
	PostedDate  []string `yaml:"posted_date"`
	Description []string `yaml:"description"`
	Amount      []string `yaml:"amount"`
	Direction   []string `yaml:"direction"`
	Debit       []string `yaml:"debit"`
	Credit      []string `yaml:"credit"`
	Reference   []string `yaml:"reference"`
	Currency    []string `yaml:"currency"`
	Balance     []string `yaml:"balance"`
}

// Profile describes one CSV layout.
type Profile struct {
	Name        string   `yaml:"name"`
	Delimiter   string   `yaml:"delimiter"`
	Currency    string   `yaml:"currency"`
	DateLayouts []string `yaml:"date_layouts"`
	Columns     Columns  `yaml:"columns"`

	// RequiredHeaders must all be present, verbatim or as substrings, for the
	// profile to apply.
	RequiredHeaders []string `yaml:"required_headers"`

	// CreditValues are direction cell prefixes meaning money in. Anything
	// else in a direction column is a debit.
	CreditValues []string `yaml:"credit_values"`
}

func (p Profile) delimiter() rune {
	switch p.Delimiter {
	case "", ",":
		return ','
	case `\t`, "tab":
		return '\t'
	}
	return []rune(p.Delimiter)[0]
}

func (p Profile) creditValues() []string {
	if len(p.CreditValues) == 0 {
		return []string{"CR", "C", "CREDIT"}
	}
	return p.CreditValues
}

func (p Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile without a name")
	}
	if len(p.Columns.Date) == 0 || len(p.Columns.Description) == 0 {
		return fmt.Errorf("profile %s: date and description columns are required", p.Name)
	}
	hasSigned := len(p.Columns.Amount) > 0
	hasSplit := len(p.Columns.Debit) > 0 && len(p.Columns.Credit) > 0
	if !hasSigned && !hasSplit {
		return fmt.Errorf("profile %s: needs an amount column or debit and credit columns", p.Name)
	}
	if len([]rune(p.Delimiter)) > 1 && p.Delimiter != `\t` && p.Delimiter != "tab" {
		return fmt.Errorf("profile %s: delimiter must be a single character", p.Name)
	}
	return nil
}

// Built-in profiles, most specific first.
var (
	HDFCBank = Profile{
		Name:        "hdfc_bank",
		Currency:    "INR",
		DateLayouts: []string{"2/1/06", "2/1/2006"},
		Columns: Columns{
			Date:        []string{"Date"},
			PostedDate:  []string{"Value Dat"},
			Description: []string{"Narration"},
			Debit:       []string{"Debit Amount"},
			Credit:      []string{"Credit Amount"},
			Reference:   []string{"Chq/Ref Number", "Ref Number", "Chq"},
			Balance:     []string{"Closing Balance"},
		},
		RequiredHeaders: []string{"Narration", "Debit Amount", "Credit Amount"},
	}

	GenericDrCr = Profile{
		Name:     "generic_drcr",
		Currency: "INR",
		Columns: Columns{
			Date:        []string{"Date", "Transaction Date", "Txn Date"},
			PostedDate:  []string{"Value Date", "Posted Date"},
			Description: []string{"Description", "Narration", "Particulars", "Details"},
			Amount:      []string{"Amount"},
			Direction:   []string{"DrCr", "Dr/Cr", "Cr/Dr", "Type"},
			Reference:   []string{"Reference", "Ref No", "Ref"},
			Currency:    []string{"Currency"},
			Balance:     []string{"Balance"},
		},
	}

	GenericSigned = Profile{
		Name:     "generic_signed",
		Currency: "INR",
		Columns: Columns{
			Date:        []string{"Date", "Transaction Date", "Txn Date"},
			PostedDate:  []string{"Value Date", "Posted Date"},
			Description: []string{"Description", "Narration", "Particulars", "Details"},
			Amount:      []string{"Amount"},
			Reference:   []string{"Reference", "Ref No", "Ref"},
			Currency:    []string{"Currency"},
			Balance:     []string{"Balance"},
		},
	}
)

// BuiltinProfiles returns copies of the built-in profiles.
func BuiltinProfiles() []Profile {
	return []Profile{HDFCBank, GenericDrCr, GenericSigned}
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads user profiles from a YAML file of the form
//
//	profiles:
//	  - name: sbi
//	    date_layouts: ["02 Jan 2006"]
//	    columns:
//	      date: ["Txn Date"]
//	      description: ["Description"]
//	      debit: ["Debit"]
//	      credit: ["Credit"]
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadProfiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes and validates YAML profile definitions.
func ParseProfiles(data []byte) ([]Profile, error) {
	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("ParseProfiles: %w", err)
	}
	seen := map[string]bool{}
	for _, p := range pf.Profiles {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("ParseProfiles: %w", err)
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			return nil, fmt.Errorf("ParseProfiles: duplicate profile %q", p.Name)
		}
		seen[key] = true
	}
	return pf.Profiles, nil
}
