package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ignite/customer-sync/internal/domain"
)

// Record is one parsed CSV row keyed by raw header name. Header casing varies
// by source file, so all lookups go through the alias tables below.
type Record map[string]string

// Per-field header aliases, lowercase, tried in order. The first alias with a
// non-empty value in the record wins, so "customer id" beats a bare "id"
// column when a file carries both.
var (
	customerIDAliases = []string{"customer id", "customer_id", "customerid", "id"}
	firstNameAliases  = []string{"firstname", "first_name", "first name"}
	lastNameAliases   = []string{"lastname", "last_name", "last name"}
	fullNameAliases   = []string{"fullname", "full_name", "full name", "name"}
	companyAliases    = []string{"company", "company_name", "organization", "organisation"}
	cityAliases       = []string{"city", "town"}
	countryAliases    = []string{"country", "country_code"}
	phone1Aliases     = []string{"phone 1", "phone_1", "phone1", "phone"}
	phone2Aliases     = []string{"phone 2", "phone_2", "phone2", "mobile"}
	emailAliases      = []string{"email", "email_address", "emailaddress", "e-mail"}
	subDateAliases    = []string{"subscription date", "subscription_date", "subscriptiondate", "subscribed_at", "signup_date"}
	websiteAliases    = []string{"website", "web_site", "url", "homepage"}
	aboutAliases      = []string{"about", "about_customer", "aboutcustomer", "description", "notes"}
)

// subscriptionDateLayouts are tried in order when parsing the subscription
// date column. Values that match none of them are dropped rather than failing
// the row.
var subscriptionDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02 Jan 2006",
	"January 2, 2006",
}

// Map normalizes a raw CSV record into a Customer. It returns nil when the
// record carries no usable identifier (no customer id and no email); callers
// skip such rows without counting them as processed.
func Map(record Record) *domain.Customer {
	if len(record) == 0 {
		return nil
	}

	// Lower-case the header names once so alias lookup is case-insensitive.
	norm := make(map[string]string, len(record))
	for k, v := range record {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		if _, ok := norm[key]; !ok {
			norm[key] = strings.TrimSpace(v)
		}
	}

	c := &domain.Customer{
		CustomerID:    pick(norm, customerIDAliases),
		FirstName:     pick(norm, firstNameAliases),
		LastName:      pick(norm, lastNameAliases),
		Company:       pick(norm, companyAliases),
		City:          pick(norm, cityAliases),
		Country:       pick(norm, countryAliases),
		Phone1:        pick(norm, phone1Aliases),
		Phone2:        pick(norm, phone2Aliases),
		Website:       pick(norm, websiteAliases),
		AboutCustomer: pick(norm, aboutAliases),
	}

	// Fall back to splitting a combined name column when no dedicated first
	// name column is present.
	if c.FirstName == "" {
		if full := pick(norm, fullNameAliases); full != "" {
			parts := strings.Fields(full)
			c.FirstName = parts[0]
			if len(parts) > 1 {
				c.LastName = strings.Join(parts[1:], " ")
			}
		}
	}

	c.Email = strings.ToLower(pick(norm, emailAliases))

	if raw := pick(norm, subDateAliases); raw != "" {
		if ts, ok := parseSubscriptionDate(raw); ok {
			c.SubscriptionDate = &ts
		}
	}

	// A row is only admissible with an identifier. Files without an explicit
	// customer id column fall back to the email address, stored verbatim as
	// the customer id so repeat imports stay stable.
	if c.CustomerID == "" {
		if c.Email == "" {
			return nil
		}
		c.CustomerID = c.Email
	}

	return c
}

// Hash fingerprints the mapped customer for resume-marker comparison. The
// field order is fixed and the subscription date is rendered in UTC, so the
// same source row always hashes identically regardless of header casing or
// column order in the file.
func Hash(c *domain.Customer) string {
	subDate := ""
	if c.SubscriptionDate != nil {
		subDate = c.SubscriptionDate.UTC().Format(time.RFC3339)
	}

	fields := []string{
		c.CustomerID,
		c.FirstName,
		c.LastName,
		c.Company,
		c.City,
		c.Country,
		c.Phone1,
		c.Phone2,
		c.Email,
		subDate,
		c.Website,
		c.AboutCustomer,
	}

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// pick returns the first non-empty value among the aliases, or "".
func pick(norm map[string]string, aliases []string) string {
	for _, alias := range aliases {
		if v, ok := norm[alias]; ok && v != "" {
			return v
		}
	}
	return ""
}

func parseSubscriptionDate(raw string) (time.Time, bool) {
	for _, layout := range subscriptionDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
