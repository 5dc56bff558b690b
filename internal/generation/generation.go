package generation

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Separator 是 family 与 version 之间的分隔符。
const Separator = "-v"

// ErrUnparsable 表示存储中的名称不符合 <family>-v<version> 格式。
var ErrUnparsable = errors.New("generation name unparsable")

// Generation 由稳定的 family 名称与整数版本组成。
type Generation struct {
	Family  string
	Version int
}

// New 构造 Generation，family 为空或版本为负时返回错误。
func New(family string, version int) (Generation, error) {
	family = strings.TrimSpace(family)
	if family == "" {
		return Generation{}, errors.New("generation family required")
	}
	if version < 0 {
		return Generation{}, fmt.Errorf("generation %s: negative version %d", family, version)
	}
	return Generation{Family: family, Version: version}, nil
}

// Name 返回存储层使用的名称。
func (g Generation) Name() string {
	return g.Family + Separator + strconv.Itoa(g.Version)
}

func (g Generation) String() string {
	return g.Name()
}

// SameFamily 判断两个 generation 是否属于同一 family。
func (g Generation) SameFamily(other Generation) bool {
	return g.Family == other.Family
}

// Parse 以最后一个 "-v<digits>" 作为版本后缀解析名称。
func Parse(name string) (Generation, error) {
	idx := strings.LastIndex(name, Separator)
	if idx <= 0 {
		return Generation{}, fmt.Errorf("%w: %q", ErrUnparsable, name)
	}
	digits := name[idx+len(Separator):]
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return Generation{}, fmt.Errorf("%w: %q", ErrUnparsable, name)
	}
	version, err := strconv.Atoi(digits)
	if err != nil {
		return Generation{}, fmt.Errorf("%w: %q", ErrUnparsable, name)
	}
	return Generation{Family: name[:idx], Version: version}, nil
}

// Set 是一组当前生效的 generation，按 family 去重。
type Set struct {
	byFamily map[string]Generation
	ordered  []Generation
}

// NewSet 构造 Set；同一 family 出现两个不同版本时返回错误，保证每个 family 至多一个 current。
func NewSet(gens ...Generation) (*Set, error) {
	s := &Set{byFamily: make(map[string]Generation, len(gens))}
	for _, g := range gens {
		if prev, ok := s.byFamily[g.Family]; ok {
			if prev != g {
				return nil, fmt.Errorf("family %s has two current generations: %s, %s", g.Family, prev, g)
			}
			continue
		}
		s.byFamily[g.Family] = g
		s.ordered = append(s.ordered, g)
	}
	return s, nil
}

// Owns 判断 family 是否属于当前进程。
func (s *Set) Owns(family string) bool {
	if s == nil {
		return false
	}
	_, ok := s.byFamily[family]
	return ok
}

// IsCurrentName 判断存储名称是否与某个 current generation 的名称完全一致。
// site-v01 与 site-v1 解析结果相同，但只有后者算 current。
func (s *Set) IsCurrentName(name string) bool {
	g, err := Parse(name)
	if err != nil {
		return false
	}
	cur, ok := s.Current(g.Family)
	return ok && cur.Name() == name
}

// Current 返回 family 对应的当前 generation。
func (s *Set) Current(family string) (Generation, bool) {
	if s == nil {
		return Generation{}, false
	}
	g, ok := s.byFamily[family]
	return g, ok
}

// List 按声明顺序返回当前 generation。
func (s *Set) List() []Generation {
	if s == nil {
		return nil
	}
	return append([]Generation(nil), s.ordered...)
}

// Names 返回当前 generation 的存储名称。
func (s *Set) Names() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, g := range list {
		out[i] = g.Name()
	}
	return out
}

// LookupOrder 从可见名称中挑出属于本进程 family 的 generation，
// current 排在最前，其余按版本从新到旧。无法解析或不相关的名称被忽略。
func (s *Set) LookupOrder(visible []string) []string {
	type candidate struct {
		name    string
		gen     Generation
		current bool
	}
	var items []candidate
	for _, name := range visible {
		g, err := Parse(name)
		if err != nil || !s.Owns(g.Family) {
			continue
		}
		items = append(items, candidate{name: name, gen: g, current: s.IsCurrentName(name)})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].current != items[j].current {
			return items[i].current
		}
		if items[i].gen.Version != items[j].gen.Version {
			return items[i].gen.Version > items[j].gen.Version
		}
		return items[i].name < items[j].name
	})
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.name
	}
	return out
}
