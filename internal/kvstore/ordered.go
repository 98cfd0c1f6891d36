package kvstore

import "container/list"

// orderedMap is a string map that iterates in insertion order and tracks
// the number of bytes held. It is not safe for concurrent use.
type orderedMap struct {
	items map[string]*list.Element
	order *list.List
	bytes int64
}

type orderedItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func newOrderedMap() *orderedMap {
	return &orderedMap{
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

func itemSize(key, value string) int64 {
	return int64(len(key) + len(value))
}

func (m *orderedMap) get(key string) (string, bool) {
	el, ok := m.items[key]
	if !ok {
		return "", false
	}
	return el.Value.(*orderedItem).Value, true
}

// sizeAfterSet returns the byte total that set(key, value) would produce
func (m *orderedMap) sizeAfterSet(key, value string) int64 {
	size := m.bytes + itemSize(key, value)
	if el, ok := m.items[key]; ok {
		item := el.Value.(*orderedItem)
		size -= itemSize(item.Key, item.Value)
	}
	return size
}

func (m *orderedMap) set(key, value string) {
	if el, ok := m.items[key]; ok {
		item := el.Value.(*orderedItem)
		m.bytes += itemSize(key, value) - itemSize(item.Key, item.Value)
		item.Value = value
		return
	}
	m.items[key] = m.order.PushBack(&orderedItem{Key: key, Value: value})
	m.bytes += itemSize(key, value)
}

func (m *orderedMap) remove(key string) bool {
	el, ok := m.items[key]
	if !ok {
		return false
	}
	item := el.Value.(*orderedItem)
	m.bytes -= itemSize(item.Key, item.Value)
	m.order.Remove(el)
	delete(m.items, key)
	return true
}

func (m *orderedMap) keys() []string {
	keys := make([]string, 0, len(m.items))
	for el := m.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*orderedItem).Key)
	}
	return keys
}

func (m *orderedMap) snapshot() []orderedItem {
	items := make([]orderedItem, 0, len(m.items))
	for el := m.order.Front(); el != nil; el = el.Next() {
		items = append(items, *el.Value.(*orderedItem))
	}
	return items
}

func (m *orderedMap) len() int {
	return len(m.items)
}
