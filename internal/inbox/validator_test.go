package inbox_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"driftsync.app/core/core/config"
	"driftsync.app/core/internal/inbox"
)

var _ = Describe("Validator", func() {
	var rules *config.Rules

	BeforeEach(func() {
		rules = &config.Rules{Entities: map[string]config.EntityRule{
			"order": {
				RequiredFields: []string{"entity_id", "customer_ref", "lines"},
			},
			"customer": {
				RequiredFields: []string{"entity_id"},
			},
		}}
	})

	newValidator := func(baseDir string) *inbox.Validator {
		v, err := inbox.NewValidator(rules, baseDir)
		Expect(err).NotTo(HaveOccurred())
		return v
	}

	It("accepts a payload with all required fields", func() {
		v := newValidator("")
		errs := v.Validate("order", json.RawMessage(`{
			"entity_id": "SO-1",
			"customer_ref": "C-9",
			"lines": [{"sku": "A", "qty": 2}]
		}`))

		Expect(errs).To(BeEmpty())
	})

	It("reports every missing required field", func() {
		v := newValidator("")
		errs := v.Validate("order", json.RawMessage(`{"entity_id": "SO-1"}`))

		Expect(errs).To(HaveLen(2))
		fields := []string{errs[0].Field, errs[1].Field}
		Expect(fields).To(ConsistOf("customer_ref", "lines"))
	})

	It("treats empty string values as missing", func() {
		v := newValidator("")
		errs := v.Validate("customer", json.RawMessage(`{"entity_id": ""}`))

		Expect(errs).To(HaveLen(1))
		Expect(errs[0].Field).To(Equal("entity_id"))
	})

	It("treats explicit nulls as missing", func() {
		v := newValidator("")
		errs := v.Validate("customer", json.RawMessage(`{"entity_id": null}`))

		Expect(errs).To(HaveLen(1))
	})

	It("rejects unknown entity types", func() {
		v := newValidator("")
		errs := v.Validate("spaceship", json.RawMessage(`{"entity_id": "X"}`))

		Expect(errs).To(HaveLen(1))
		Expect(errs[0].Field).To(Equal("entity_type"))
	})

	It("rejects payloads that are not JSON objects", func() {
		v := newValidator("")
		errs := v.Validate("customer", json.RawMessage(`[1, 2, 3]`))

		Expect(errs).To(HaveLen(1))
		Expect(errs[0].Message).To(ContainSubstring("not a JSON object"))
	})

	Context("with a JSON Schema attached", func() {
		var baseDir string

		BeforeEach(func() {
			baseDir = GinkgoT().TempDir()
			schema := `{
				"type": "object",
				"properties": {
					"entity_id": {"type": "string"},
					"total": {"type": "number", "minimum": 0}
				}
			}`
			err := os.WriteFile(filepath.Join(baseDir, "customer.json"), []byte(schema), 0o644)
			Expect(err).NotTo(HaveOccurred())

			rule := rules.Entities["customer"]
			rule.SchemaFile = "customer.json"
			rules.Entities["customer"] = rule
		})

		It("accepts payloads that satisfy the schema", func() {
			v := newValidator(baseDir)
			errs := v.Validate("customer", json.RawMessage(`{"entity_id": "C-9", "total": 12.5}`))

			Expect(errs).To(BeEmpty())
		})

		It("reports schema violations with their field locations", func() {
			v := newValidator(baseDir)
			errs := v.Validate("customer", json.RawMessage(`{"entity_id": "C-9", "total": -1}`))

			Expect(errs).NotTo(BeEmpty())
			Expect(errs[0].Field).To(ContainSubstring("total"))
		})

		It("runs required field checks before the schema", func() {
			v := newValidator(baseDir)
			errs := v.Validate("customer", json.RawMessage(`{"total": -1}`))

			Expect(errs).To(HaveLen(1))
			Expect(errs[0].Field).To(Equal("entity_id"))
		})

		It("fails construction on an unreadable schema file", func() {
			rule := rules.Entities["customer"]
			rule.SchemaFile = "does-not-exist.json"
			rules.Entities["customer"] = rule

			_, err := inbox.NewValidator(rules, baseDir)
			Expect(err).To(HaveOccurred())
		})
	})
})
