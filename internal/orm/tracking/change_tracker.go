// Package tracking provides change tracking for entity instances.
// It records property and collection mutations so the session can emit
// minimal UPDATE statements and decide which entities need flushing.
package tracking

import (
	"reflect"
	"sync"
	"time"

	"github.com/spf13/cast"
)

// ChangeType is the kind of a collection mutation
type ChangeType int

const (
	Added ChangeType = iota
	Removed
)

// String returns the string representation of the change type
func (c ChangeType) String() string {
	switch c {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// opposite returns the change type that cancels c
func (c ChangeType) opposite() ChangeType {
	if c == Added {
		return Removed
	}
	return Added
}

// PropertyKind tells the tracker how to interpret recorded changes of a property
type PropertyKind int

const (
	KindScalar PropertyKind = iota
	KindForeignKey
	KindList
)

// Subject is the entity a tracker belongs to
type Subject interface {
	IsTransient() bool
	PropertyKind(property string) PropertyKind
}

// PropertyChangedItem represents one recorded change of a scalar or reference property
type PropertyChangedItem struct {
	PropertyName string
	OldValue     interface{}
	NewValue     interface{}
}

// CollectionChangedItem represents one recorded membership change of a list property
type CollectionChangedItem struct {
	PropertyName string
	Item         interface{}
	ChangeType   ChangeType
}

// ChangeTracker tracks property and collection changes on one entity instance
type ChangeTracker struct {
	mu          sync.RWMutex
	subject     Subject
	properties  []PropertyChangedItem
	collections []CollectionChangedItem
	disabled    int
}

// NewChangeTracker creates a change tracker for the given subject
func NewChangeTracker(subject Subject) *ChangeTracker {
	return &ChangeTracker{subject: subject}
}

// Disable suspends recording; calls nest and must be paired with Enable
func (ct *ChangeTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.disabled++
}

// Enable resumes recording after Disable
func (ct *ChangeTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.disabled > 0 {
		ct.disabled--
	}
}

// Enabled returns true if changes are currently recorded
func (ct *ChangeTracker) Enabled() bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.disabled == 0
}

// AddPropertyChanged records a property change
func (ct *ChangeTracker) AddPropertyChanged(property string, oldValue, newValue interface{}) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if ct.disabled > 0 {
		return
	}
	ct.properties = append(ct.properties, PropertyChangedItem{
		PropertyName: property,
		OldValue:     oldValue,
		NewValue:     newValue,
	})
}

// AddCollectionChanged records a collection change. A pending entry of the
// opposite type for the same property and item is removed instead.
func (ct *ChangeTracker) AddCollectionChanged(property string, item interface{}, changeType ChangeType) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if ct.disabled > 0 {
		return
	}

	opposite := changeType.opposite()
	for i, c := range ct.collections {
		if c.PropertyName == property && c.ChangeType == opposite && sameItem(c.Item, item) {
			ct.collections = append(ct.collections[:i], ct.collections[i+1:]...)
			return
		}
	}

	ct.collections = append(ct.collections, CollectionChangedItem{
		PropertyName: property,
		Item:         item,
		ChangeType:   changeType,
	})
}

// HasChanged returns true if the property must be written on the next flush
func (ct *ChangeTracker) HasChanged(property string) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	if ct.subject != nil && ct.subject.IsTransient() {
		return true
	}

	kind := KindScalar
	if ct.subject != nil {
		kind = ct.subject.PropertyKind(property)
	}

	if kind == KindList {
		for _, c := range ct.collections {
			if c.PropertyName == property {
				return true
			}
		}
		return false
	}

	first, last, found := ct.span(property)
	if !found {
		return false
	}

	oldValue, newValue := first.OldValue, last.NewValue
	if isNil(oldValue) && isNil(newValue) {
		return false
	}
	if isNil(oldValue) {
		return true
	}
	if kind == KindForeignKey {
		// the referenced entity was replaced by one that has no id yet
		if id, err := cast.ToInt64E(newValue); err == nil && id == 0 {
			return true
		}
	}
	return !valuesEqual(oldValue, newValue)
}

// span returns the first and last recorded change of a property
func (ct *ChangeTracker) span(property string) (first, last PropertyChangedItem, found bool) {
	for _, p := range ct.properties {
		if p.PropertyName != property {
			continue
		}
		if !found {
			first = p
			found = true
		}
		last = p
	}
	return first, last, found
}

// HasChanges returns true if anything was recorded
func (ct *ChangeTracker) HasChanges() bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.properties) > 0 || len(ct.collections) > 0
}

// GetChangedProperties returns the distinct recorded property names in first-recorded order
func (ct *ChangeTracker) GetChangedProperties() []string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for _, p := range ct.properties {
		if !seen[p.PropertyName] {
			seen[p.PropertyName] = true
			names = append(names, p.PropertyName)
		}
	}
	for _, c := range ct.collections {
		if !seen[c.PropertyName] {
			seen[c.PropertyName] = true
			names = append(names, c.PropertyName)
		}
	}
	return names
}

// PropertyChanges returns a copy of all recorded property changes
func (ct *ChangeTracker) PropertyChanges() []PropertyChangedItem {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	result := make([]PropertyChangedItem, len(ct.properties))
	copy(result, ct.properties)
	return result
}

// CollectionChanges returns a copy of all recorded collection changes
func (ct *ChangeTracker) CollectionChanges() []CollectionChangedItem {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	result := make([]CollectionChangedItem, len(ct.collections))
	copy(result, ct.collections)
	return result
}

// Removed returns the items recorded as removed from a list property
func (ct *ChangeTracker) Removed(property string) []interface{} {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	var items []interface{}
	for _, c := range ct.collections {
		if c.PropertyName == property && c.ChangeType == Removed {
			items = append(items, c.Item)
		}
	}
	return items
}

// Clear forgets all recorded changes.
// This should be called after a successful flush.
func (ct *ChangeTracker) Clear() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.properties = nil
	ct.collections = nil
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// sameItem compares collection items by identity for pointers and by value otherwise
func sameItem(a, b interface{}) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	return valuesEqual(a, b)
}

func valuesEqual(a, b interface{}) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.Ptr && rb.Kind() == reflect.Ptr {
		return ra.Pointer() == rb.Pointer()
	}
	return reflect.DeepEqual(a, b)
}
