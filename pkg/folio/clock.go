package folio

import "time"

const dateLayout = "2006-01-02"

// loadLocation resolves an IANA zone name, falling back to UTC.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return location
}

func (c *Core) nowLocal() time.Time {
	return c.now().In(c.location)
}

// today returns the current date as YYYY-MM-DD in the configured zone.
func (c *Core) today() string {
	return c.nowLocal().Format(dateLayout)
}

func (c *Core) timestamp() string {
	return c.nowLocal().Format(time.RFC3339)
}

func parseDate(value string) (time.Time, error) {
	return time.Parse(dateLayout, value)
}

func isValidDate(value string) bool {
	_, err := parseDate(value)
	return err == nil
}

func addDays(date string, days int) string {
	t, err := parseDate(date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, days).Format(dateLayout)
}
