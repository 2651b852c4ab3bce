// Copyright 2024 The Smelt Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

const statuszTemplate = `
<!DOCTYPE html>
<html>
<head>
<title>smelt status</title>
<style>
table, td, th {
  border: 1px solid;
}

table {
  width: 100%;
  border-collapse: collapse;
}

td.detail {
  font-family: monospace;
  white-space: pre-wrap;
}
</style>
</head>
<body>
  <h2>Active</h2>
  <table>
    <tr>
      <th>Job ID</th>
      <th>Operation</th>
      <th>Source</th>
      <th>Destination</th>
      <th>Progress</th>
    </tr>
    {{range .ActiveJobs}}
      <tr>
        <td>{{.Id}}</td>
        <td>{{.Operation}}</td>
        <td>{{.Source}}</td>
        <td>{{.Output}}</td>
        <td>{{.Progress}}</td>
      </tr>
    {{end}}
  </table>

  <h2>Queued</h2>
  <table>
    <tr>
      <th>Job ID</th>
      <th>Operation</th>
      <th>Source</th>
      <th>Destination</th>
    </tr>
    {{range .QueuedJobs}}
      <tr>
        <td>{{.Id}}</td>
        <td>{{.Operation}}</td>
        <td>{{.Source}}</td>
        <td>{{.Output}}</td>
      </tr>
    {{end}}
  </table>

  <h2>Completed</h2>
  <table>
    <tr>
      <th>Job ID</th>
      <th>Operation</th>
      <th>Destination</th>
      <th>Size</th>
      <th>Result</th>
      <th>Detail</th>
    </tr>
    {{range .CompletedJobs}}
      <tr>
        <td>{{.Id}}</td>
        <td>{{.Operation}}</td>
        <td>{{.Output}}</td>
        <td>{{.Size}}</td>
        <td>{{.State}}</td>
        <td class="detail">{{.Detail}}</td>
      </tr>
    {{end}}
  </table>
</body>
</html>
`
