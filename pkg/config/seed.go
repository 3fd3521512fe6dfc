package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/polisai/agora/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Seed is the parsed community seed file: communities with their members,
// roles, documents, and policies, applied to the store at startup.
type Seed struct {
	Communities []CommunitySeed `yaml:"communities"`
}

// CommunitySeed describes one community and everything it owns.
type CommunitySeed struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Platform string `yaml:"platform"`
	BaseRole string `yaml:"base_role"`

	Members   []MemberSeed   `yaml:"members"`
	Roles     []RoleSeed     `yaml:"roles"`
	Documents []DocumentSeed `yaml:"documents"`
	Policies  []PolicySeed   `yaml:"policies"`
}

// MemberSeed describes one community member.
type MemberSeed struct {
	ID           string `yaml:"id"`
	Username     string `yaml:"username"`
	ReadableName string `yaml:"readable_name"`
	Admin        bool   `yaml:"admin"`
}

// RoleSeed describes one role with its capability grants and holders.
type RoleSeed struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
	Members      []string `yaml:"members"`
}

// DocumentSeed describes one community document.
type DocumentSeed struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// PolicySeed describes one policy. Hook sources left empty are completed with
// defaults at admission, not here.
type PolicySeed struct {
	ID          string   `yaml:"id"`
	Category    string   `yaml:"category"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Bundled     bool     `yaml:"bundled"`
	Hooks       HookSeed `yaml:"hooks"`
}

// HookSeed carries the six authored hook sources of a seeded policy.
type HookSeed struct {
	Filter     string `yaml:"filter"`
	Initialize string `yaml:"initialize"`
	Check      string `yaml:"check"`
	Notify     string `yaml:"notify"`
	Success    string `yaml:"success"`
	Fail       string `yaml:"fail"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	//nolint:gosec // Seed file path is controlled by admin/operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("seed validation failed: %w", err)
	}

	return &seed, nil
}

// Validate checks referential integrity of the seed: non-empty unique ids,
// base roles that exist, and known policy categories.
func (s *Seed) Validate() error {
	communityIDs := make(map[string]bool, len(s.Communities))
	for i := range s.Communities {
		c := &s.Communities[i]
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("community %d: missing id", i)
		}
		if communityIDs[c.ID] {
			return fmt.Errorf("duplicate community id %q", c.ID)
		}
		communityIDs[c.ID] = true

		if err := c.validate(); err != nil {
			return fmt.Errorf("community %s: %w", c.ID, err)
		}
	}
	return nil
}

func (c *CommunitySeed) validate() error {
	memberIDs := make(map[string]bool, len(c.Members))
	for i, m := range c.Members {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("member %d: missing id", i)
		}
		if memberIDs[m.ID] {
			return fmt.Errorf("duplicate member id %q", m.ID)
		}
		memberIDs[m.ID] = true
	}

	roleIDs := make(map[string]bool, len(c.Roles))
	for i, r := range c.Roles {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("role %d: missing id", i)
		}
		if roleIDs[r.ID] {
			return fmt.Errorf("duplicate role id %q", r.ID)
		}
		roleIDs[r.ID] = true

		for _, holder := range r.Members {
			if !memberIDs[holder] {
				return fmt.Errorf("role %s: unknown member %q", r.ID, holder)
			}
		}
	}

	if c.BaseRole != "" && !roleIDs[c.BaseRole] {
		return fmt.Errorf("base role %q is not a seeded role", c.BaseRole)
	}

	docIDs := make(map[string]bool, len(c.Documents))
	for i, d := range c.Documents {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("document %d: missing id", i)
		}
		if docIDs[d.ID] {
			return fmt.Errorf("duplicate document id %q", d.ID)
		}
		docIDs[d.ID] = true
	}

	policyIDs := make(map[string]bool, len(c.Policies))
	for i, p := range c.Policies {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("policy %d: missing id", i)
		}
		if policyIDs[p.ID] {
			return fmt.Errorf("duplicate policy id %q", p.ID)
		}
		policyIDs[p.ID] = true

		switch domain.PolicyCategory(p.Category) {
		case domain.CategoryGovernance, domain.CategoryPlatform:
		default:
			return fmt.Errorf("policy %s: invalid category %q, supported categories: governance, platform", p.ID, p.Category)
		}
	}

	return nil
}

// ToDomain converts the community header to a domain entity.
func (c CommunitySeed) ToDomain() *domain.Community {
	return &domain.Community{
		ID:       c.ID,
		Name:     c.Name,
		Platform: c.Platform,
		BaseRole: c.BaseRole,
	}
}

// ToDomain converts a seeded member to a domain entity.
func (m MemberSeed) ToDomain(community string) *domain.Member {
	return &domain.Member{
		ID:           m.ID,
		Community:    community,
		Username:     m.Username,
		ReadableName: m.ReadableName,
		Admin:        m.Admin,
	}
}

// ToDomain converts a seeded role to a domain entity.
func (r RoleSeed) ToDomain(community string) *domain.Role {
	return &domain.Role{
		ID:           r.ID,
		Community:    community,
		Name:         r.Name,
		Description:  r.Description,
		Capabilities: append([]string(nil), r.Capabilities...),
		Members:      append([]string(nil), r.Members...),
	}
}

// ToDomain converts a seeded document to a domain entity.
func (d DocumentSeed) ToDomain(community string) *domain.Document {
	return &domain.Document{
		ID:        d.ID,
		Community: community,
		Name:      d.Name,
		Text:      d.Text,
	}
}

// ToDomain converts a seeded policy to a domain entity. The category must
// already be validated.
func (p PolicySeed) ToDomain(community string, now time.Time) *domain.Policy {
	spec := domain.PolicySpec{
		Name:        p.Name,
		Description: p.Description,
		IsBundled:   p.Bundled,
		Hooks: domain.HookSet{
			Filter:     p.Hooks.Filter,
			Initialize: p.Hooks.Initialize,
			Check:      p.Hooks.Check,
			Notify:     p.Hooks.Notify,
			Success:    p.Hooks.Success,
			Fail:       p.Hooks.Fail,
		},
	}
	return domain.NewPolicyFromSpec(p.ID, community, domain.PolicyCategory(p.Category), spec, now)
}
