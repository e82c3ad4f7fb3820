package extraction

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Value", func() {
	var v Value

	BeforeEach(func() {
		var err error
		v, err = ParseValue([]byte(`{"issuer":{"name":"Acme","tags":[]},"line_items":[{"qty":2},{"qty":"3"}],"grand_total":12.50,"paid":true,"note":null}`))
		Expect(err).NotTo(HaveOccurred())
	})

	It("keeps object keys in document order", func() {
		Expect(v.Keys()).To(Equal([]string{"issuer", "line_items", "grand_total", "paid", "note"}))
	})

	It("follows dotted paths through objects and arrays", func() {
		name, ok := v.Lookup("issuer.name")
		Expect(ok).To(BeTrue())
		Expect(name.Str()).To(Equal("Acme"))

		qty, ok := v.Lookup("line_items.1.qty")
		Expect(ok).To(BeTrue())
		Expect(qty.Str()).To(Equal("3"))
	})

	It("reports missing paths", func() {
		_, ok := v.Lookup("issuer.address")
		Expect(ok).To(BeFalse())
		_, ok = v.Lookup("line_items.9.qty")
		Expect(ok).To(BeFalse())
		_, ok = v.Lookup("grand_total.value")
		Expect(ok).To(BeFalse())
	})

	It("keeps number literals verbatim", func() {
		total, _ := v.Get("grand_total")
		Expect(total.Kind()).To(Equal(KindNumber))
		Expect(total.Str()).To(Equal("12.50"))
	})

	It("stringifies scalars and nulls", func() {
		paid, _ := v.Get("paid")
		Expect(paid.Str()).To(Equal("true"))
		note, _ := v.Get("note")
		Expect(note.IsNull()).To(BeTrue())
		Expect(note.Str()).To(Equal(""))
	})

	It("treats null, blank strings and empty containers as empty", func() {
		tags, _ := v.Lookup("issuer.tags")
		Expect(tags.IsEmpty()).To(BeTrue())
		Expect(StringValue("  ").IsEmpty()).To(BeTrue())
		Expect(Null().IsEmpty()).To(BeTrue())
		Expect(NumberValue(0).IsEmpty()).To(BeFalse())
	})

	It("re-serializes to the same compact JSON", func() {
		Expect(v.Str()).To(Equal(`{"issuer":{"name":"Acme","tags":[]},"line_items":[{"qty":2},{"qty":"3"}],"grand_total":12.50,"paid":true,"note":null}`))
	})

	When("the document is invalid", func() {
		It("returns an error for trailing commas", func() {
			_, err := ParseValue([]byte(`{"a":1,}`))
			Expect(err).To(HaveOccurred())
		})

		It("returns an error for trailing data", func() {
			_, err := ParseValue([]byte(`{"a":1} extra`))
			Expect(err).To(HaveOccurred())
		})
	})
})
