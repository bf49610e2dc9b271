package store

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Record is a single stored entity. Records are values: the store hands
// out copies so a record can't change after it was added.
type Record struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Age     int    `json:"age"`
	Address string `json:"address"`
}

// NewRecord creates a record
func NewRecord(id, name string, age int, address string) Record {
	return Record{
		ID:      id,
		Name:    name,
		Age:     age,
		Address: address,
	}
}

// ParseRecord creates a record from user input where age is text
func ParseRecord(id, name, age, address string) (Record, error) {
	n, err := strconv.Atoi(strings.TrimSpace(age))
	if err != nil {
		return Record{}, fmt.Errorf("age must be a number, got '%s'", age)
	}
	return NewRecord(id, name, n, address), nil
}

func (r Record) String() string {
	return fmt.Sprintf("ID: %s, Name: %s, Age: %d, Address: %s", r.ID, r.Name, r.Age, r.Address)
}

// Field names that can be used in search and delete
const (
	FieldID      = "id"
	FieldName    = "name"
	FieldAge     = "age"
	FieldAddress = "address"
)

// Fields lists all recognized field names
var Fields = []string{FieldID, FieldName, FieldAge, FieldAddress}

// IsValidField returns true if name is one of Fields. Names are case-sensitive.
func IsValidField(name string) bool {
	return slices.Contains(Fields, name)
}

// FieldValue returns string form of a field. Age is formatted as
// a decimal number. Returns false for unknown fields.
func (r Record) FieldValue(field string) (string, bool) {
	switch field {
	case FieldID:
		return r.ID, true
	case FieldName:
		return r.Name, true
	case FieldAge:
		return strconv.Itoa(r.Age), true
	case FieldAddress:
		return r.Address, true
	}
	return "", false
}

// Matches returns true if field of r is equal to value.
// Unknown fields never match.
func (r Record) Matches(field, value string) bool {
	v, ok := r.FieldValue(field)
	return ok && v == value
}

// SortByID sorts records by id, in place
func SortByID(recs []Record) {
	slices.SortFunc(recs, func(a, b Record) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
