package view

// Templates are parsed once by New. Each page template receives a pageData.
const baseTemplates = `
{{- define "header" -}}
== Storefront ==  {{range .Nav}}{{if .Active}}[{{.Label}}]{{else}} {{.Label}} {{end}} {{end}}
{{- if .State.LoggedIn}}| {{.State.Greeting}} {{end}}| Cart ({{.State.Cart.ItemCount}})
{{end -}}

{{- define "alerts" -}}
{{- if .State.Error}}
  ! {{.State.Error}}
{{end -}}
{{- if .State.Notice}}
  * {{.State.Notice}}
{{end -}}
{{- end -}}

{{- define "catalog" -}}
{{- if not .State.Products}}
No products available right now.
{{else}}
{{range $i, $p := .State.Products -}}
{{printf "%3d" (inc $i)}}. {{$p.Name}}  {{money $p.Price}}
{{- with $p.Description}}
     {{.}}{{end}}
{{end -}}
{{end -}}
{{- end -}}

{{- define "login" -}}
Log in
  login <email> <password>
No account yet? Type "register <name> <email> <password>".
{{end -}}

{{- define "register" -}}
Create an account
  register <name> <email> <password>
Already registered? Type "login <email> <password>".
{{end -}}

{{- define "orders" -}}
Your orders
{{- if not .State.Orders}}
You have not placed any orders yet.
{{else}}
{{range .State.Orders -}}
Order #{{.ID}}  {{placed .}}  {{.Status.Label}}  Total {{money .TotalAmount}}
{{- range .Items}}
    {{.Quantity}} x {{.ProductName}} @ {{money .PriceAtOrder}}
{{- end}}
    Ship to: {{.Address}}, {{.City}} {{.PostalCode}}, {{.Country}}
{{end -}}
{{end -}}
{{- end -}}

{{- define "cart" -}}
--- Cart ---
{{- if not .State.LoggedIn}}
Please log in to view and manage your cart.
{{else if .State.Cart.Empty}}
Your cart is empty.
{{else}}
{{range .State.Cart.Lines -}}
{{.Name}} ({{.ProductID}})  {{.Quantity}} x {{money .Price}} = {{money .Subtotal}}
{{end -}}
Total: {{money .State.Cart.Total}}
{{end -}}
{{- end -}}
`
