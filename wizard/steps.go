package wizard

import (
	"context"
	"fmt"
	"strings"

	"orderbot/auth"
	"orderbot/order"
	"orderbot/skill"
	"orderbot/ui"
)

// dateStep loads the session and the in-progress date selection.
func (m *Machine) dateStep(p auth.Principal) (*Session, DateSelection, error) {
	s, err := m.load(p, StepDate)
	if err != nil {
		return nil, DateSelection{}, err
	}
	sel, _ := m.dates.Get(p.UserID)
	return s, sel, nil
}

func (m *Machine) PickYear(ctx context.Context, p auth.Principal, value string) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, _, err := m.dateStep(p)
	if err != nil {
		return ui.Reply{}, err
	}
	year, err := parseInt("year", value)
	if err != nil {
		return ui.Reply{}, err
	}
	today := m.today()
	if !contains(yearOptions(today), year) {
		return ui.Reply{}, &ValidationError{Field: "year", Reason: fmt.Sprintf("%d is not offered", year)}
	}
	sel := DateSelection{Year: year}
	m.dates.Put(p.UserID, sel)
	s.Draft.Deadline = ""
	s.UpdatedAt = m.now()
	return ui.Replace(datePrompt(sel, "", today)), nil
}

func (m *Machine) PickMonth(ctx context.Context, p auth.Principal, value string) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, sel, err := m.dateStep(p)
	if err != nil {
		return ui.Reply{}, err
	}
	if sel.Year == 0 {
		return ui.Reply{}, &ValidationError{Field: "month", Reason: "pick a year first"}
	}
	month, err := parseInt("month", value)
	if err != nil {
		return ui.Reply{}, err
	}
	today := m.today()
	if !contains(monthOptions(sel.Year, today), month) {
		return ui.Reply{}, &ValidationError{Field: "month", Reason: fmt.Sprintf("%d is not offered for %d", month, sel.Year)}
	}
	sel.Month, sel.Day = month, 0
	m.dates.Put(p.UserID, sel)
	s.Draft.Deadline = ""
	s.UpdatedAt = m.now()
	return ui.Replace(datePrompt(sel, "", today)), nil
}

// PickDay commits the deadline. part is the 1-based day menu the value came
// from; a day outside that menu is rejected rather than clamped.
func (m *Machine) PickDay(ctx context.Context, p auth.Principal, part int, value string) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, sel, err := m.dateStep(p)
	if err != nil {
		return ui.Reply{}, err
	}
	if sel.Year == 0 || sel.Month == 0 {
		return ui.Reply{}, &ValidationError{Field: "day", Reason: "pick a year and month first"}
	}
	day, err := parseInt("day", value)
	if err != nil {
		return ui.Reply{}, err
	}
	today := m.today()
	chunks := dayChunks(DayOptions(sel.Year, sel.Month, today))
	if part < 1 || part > len(chunks) || !contains(chunks[part-1], day) {
		return ui.Reply{}, &ValidationError{Field: "day", Reason: fmt.Sprintf("%d is not a day of %d-%02d", day, sel.Year, sel.Month)}
	}
	sel.Day = day
	m.dates.Put(p.UserID, sel)
	s.Draft.Deadline = formatDate(sel.Year, sel.Month, sel.Day)
	s.UpdatedAt = m.now()
	return ui.Replace(datePrompt(sel, s.Draft.Deadline, today)), nil
}

func (m *Machine) ConfirmDate(ctx context.Context, p auth.Principal) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, _, err := m.dateStep(p)
	if err != nil {
		return ui.Reply{}, err
	}
	if s.Draft.Deadline == "" {
		return ui.Reply{}, &ValidationError{Field: "deadline", Reason: "pick a day or skip"}
	}
	return ui.Replace(m.toCategories(s)), nil
}

func (m *Machine) SkipDate(ctx context.Context, p auth.Principal) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, _, err := m.dateStep(p)
	if err != nil {
		return ui.Reply{}, err
	}
	s.Draft.Deadline = ""
	return ui.Replace(m.toCategories(s)), nil
}

func (m *Machine) toCategories(s *Session) ui.Message {
	m.dates.Delete(s.UserID)
	m.advance(s, StepCategory)
	return categoryPrompt(s.Draft, "")
}

// PickCategory opens the role checklist of one category.
func (m *Machine) PickCategory(ctx context.Context, p auth.Principal, value string) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepCategory)
	if err != nil {
		return ui.Reply{}, err
	}
	cat := skill.Category(value)
	if !cat.Valid() {
		return ui.Reply{}, &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", value)}
	}
	roles, err := m.rolesIn(ctx, cat)
	if err != nil {
		return ui.Reply{}, err
	}
	if len(roles) == 0 {
		s.Category = ""
		return ui.Replace(categoryPrompt(s.Draft, fmt.Sprintf("No roles found in %s.", cat.Label()))), nil
	}
	s.Category = cat
	s.UpdatedAt = m.now()
	return ui.Replace(rolesPrompt(cat, roles, s.Draft)), nil
}

// PickRoles adds the chosen roles of category to the draft. Repeated
// visits accumulate without duplicates.
func (m *Machine) PickRoles(ctx context.Context, p auth.Principal, category string, values []string) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepCategory)
	if err != nil {
		return ui.Reply{}, err
	}
	cat := skill.Category(category)
	if s.Category == "" || cat != s.Category {
		return ui.Reply{}, fmt.Errorf("%w: category %q is not open", ErrStaleStep, category)
	}
	roles, err := m.rolesIn(ctx, cat)
	if err != nil {
		return ui.Reply{}, err
	}
	byValue := make(map[string]order.RoleRef, len(roles))
	for _, r := range roles {
		byValue[roleValue(r)] = r
	}
	picked := make([]order.RoleRef, 0, len(values))
	for _, v := range values {
		r, ok := byValue[v]
		if !ok {
			return ui.Reply{}, &ValidationError{Field: "roles", Reason: fmt.Sprintf("%q is not a role in %s", strings.TrimPrefix(v, "name:"), cat.Label())}
		}
		picked = append(picked, r)
	}
	s.Draft.addRoles(picked)
	s.Category = ""
	s.UpdatedAt = m.now()
	return ui.Replace(categoryPrompt(s.Draft, "Added: "+roleNames(picked))), nil
}

// BackToCategory returns from a role checklist. A lost session is
// reported as ErrNoSession; nothing is rebuilt from the rendered prompt.
func (m *Machine) BackToCategory(ctx context.Context, p auth.Principal) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepCategory)
	if err != nil {
		return ui.Reply{}, err
	}
	s.Category = ""
	return ui.Replace(categoryPrompt(s.Draft, "")), nil
}

func (m *Machine) ConfirmRoles(ctx context.Context, p auth.Principal) (ui.Reply, error) {
	return m.leaveCategories(p, false)
}

func (m *Machine) SkipRoles(ctx context.Context, p auth.Principal) (ui.Reply, error) {
	return m.leaveCategories(p, true)
}

func (m *Machine) leaveCategories(p auth.Principal, skip bool) (ui.Reply, error) {
	unlock := m.locks.Lock(p.UserID)
	defer unlock()

	s, err := m.load(p, StepCategory)
	if err != nil {
		return ui.Reply{}, err
	}
	if skip {
		s.Draft.RequiredRoles = nil
	}
	s.Category = ""
	m.advance(s, StepLevel)
	return ui.Replace(levelPrompt()), nil
}
