package headhunter

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var vacancyPath = regexp.MustCompile(`^/vacancy/(\d+)/?$`)

type Vacancy struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Area struct {
		Name string `json:"name,omitempty"`
	} `json:"area,omitempty"`
	Salary *struct {
		From     int    `json:"from,omitempty"`
		To       int    `json:"to,omitempty"`
		Currency string `json:"currency,omitempty"`
	} `json:"salary,omitempty"`
	Experience struct {
		Name string `json:"name,omitempty"`
	} `json:"experience,omitempty"`
	Schedule struct {
		Name string `json:"name,omitempty"`
	} `json:"schedule,omitempty"`
	Employment struct {
		Name string `json:"name,omitempty"`
	} `json:"employment,omitempty"`
	Employer struct {
		ID           string `json:"id,omitempty"`
		Name         string `json:"name,omitempty"`
		AlternateURL string `json:"alternate_url,omitempty"`
		Trusted      bool   `json:"trusted,omitempty"`
	} `json:"employer,omitempty"`
	Description string `json:"description,omitempty"`
	KeySkills   []struct {
		Name string `json:"name,omitempty"`
	} `json:"key_skills,omitempty"`
	ProfessionalRoles []struct {
		Name string `json:"name,omitempty"`
	} `json:"professional_roles,omitempty"`
	AlternateURL string `json:"alternate_url,omitempty"`
	PublishedAt  string `json:"published_at,omitempty"`
}

// VacancyID extracts the vacancy id from an hh.ru vacancy page URL,
// including regional subdomains such as spb.hh.ru.
func VacancyID(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host != "hh.ru" && !strings.HasSuffix(host, ".hh.ru") {
		return "", false
	}

	m := vacancyPath.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Vacancy fetches one vacancy by id.
func (c *Client) Vacancy(ctx context.Context, id string) (*Vacancy, error) {
	var vacancy Vacancy
	if err := c.getJSON(ctx, fmt.Sprintf("%s/vacancies/%s", c.APIURL, url.PathEscape(id)), nil, &vacancy); err != nil {
		return nil, fmt.Errorf("get vacancy %s: %w", id, err)
	}
	return &vacancy, nil
}

// Header renders the structured vacancy fields as plain text lines. The
// HTML description is not included.
func (va *Vacancy) Header() string {
	var b strings.Builder
	line := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}

	line("Position", va.Name)
	line("Company", va.Employer.Name)
	line("Company page", va.Employer.AlternateURL)
	line("Location", va.Area.Name)
	if va.Salary != nil {
		line("Salary", fmt.Sprintf("%d-%d %s", va.Salary.From, va.Salary.To, va.Salary.Currency))
	}
	line("Experience", va.Experience.Name)
	line("Schedule", va.Schedule.Name)
	line("Employment", va.Employment.Name)

	roles := make([]string, 0, len(va.ProfessionalRoles))
	for _, r := range va.ProfessionalRoles {
		roles = append(roles, r.Name)
	}
	line("Roles", strings.Join(roles, ", "))

	skills := make([]string, 0, len(va.KeySkills))
	for _, s := range va.KeySkills {
		skills = append(skills, s.Name)
	}
	line("Key skills", strings.Join(skills, ", "))
	line("Published", va.PublishedAt)

	return b.String()
}
