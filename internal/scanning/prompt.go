package scanning

// ExtractionPrompt asks the model for the vendor-shaped receipt record
const ExtractionPrompt = `You are analyzing a receipt or invoice document. Carefully read all text in the document and extract the following information:

1. **Issuer**: The merchant or business that issued the receipt: its name, street address, and a phone number or email if printed.

2. **Issued to**: The customer the receipt was issued to, if shown.

3. **Date**: The transaction, purchase or invoice date in ISO 8601 format (YYYY-MM-DD).

4. **Totals**: The grand total actually charged, and the currency it was charged in.

5. **Line items**: Every purchased item with its description, quantity, unit price and line subtotal.

6. **Payment**: The payment method or bank/card name, if shown.

7. **Note**: One or two sentences describing what was purchased.

Return ONLY valid JSON in this format:
{
  "issuer": {"name": "", "address": "", "phone": "", "email": ""},
  "issued_to": {"name": "", "address": ""},
  "date": "YYYY-MM-DD",
  "grand_total": 0.00,
  "currency": "USD",
  "line_items": [
    {"description": "", "qty": 1, "price": 0.00, "subtotal": 0.00}
  ],
  "payment_method": "",
  "note": ""
}

Important:
- Amounts must be numbers (not strings), representing the value in the document's currency
- If you cannot find a field, use null for that field
- Do not invent line items that are not printed on the document`

// StrictJSONPrompt is used to re-ask a model whose previous answer could not
// be parsed.
const StrictJSONPrompt = ExtractionPrompt + `

Your previous answer could not be parsed. Respond with a single JSON object and nothing else:
no markdown code blocks, no commentary, no trailing commas.`
